// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "vendor-onboarding/internal/common/errors"
)

// companySchema constrains inbound vendor payloads. Fields outside the
// schema are accepted and ignored so spreadsheet-shaped uploads with extra
// columns do not fail wholesale.
var companySchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"companyName": map[string]interface{}{"type": "string", "minLength": 1},
		"username":    map[string]interface{}{"type": "string"},
		"groupName":   map[string]interface{}{"type": "string"},
		"division":    map[string]interface{}{"type": "string"},
		"email":       map[string]interface{}{"type": "string", "minLength": 1},
		"phoneNumber": map[string]interface{}{"type": "string"},
		"ownerEmail":  map[string]interface{}{"type": "string"},
	},
	"required": []interface{}{"companyName", "email"},
}

var submissionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"agreement": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"agree", "disagree"},
		},
		"reason": map[string]interface{}{"type": "string"},
	},
	"required": []interface{}{"agreement"},
}

// ValidateCompany checks a vendor create/update payload.
func ValidateCompany(data map[string]interface{}) error {
	return validate(companySchema, data)
}

// ValidateSubmission checks a form submission payload.
func ValidateSubmission(data map[string]interface{}) error {
	return validate(submissionSchema, data)
}

func validate(schema, data map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return apperrors.NewValidationError(strings.Join(errs, "; "))
	}

	return nil
}
