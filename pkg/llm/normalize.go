package llm

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sibylline/forecastmarket/pkg/models"
)

// probabilityFields are the object keys the forecasting pipeline asks the
// model to bound to [0,1] (spec §3 Factor.importance_score is [0,10] and is
// excluded deliberately; ForecasterResponse.prediction_probability and
// .confidence are the actual [0,1] fields).
var probabilityFields = map[string]bool{
	"prediction_probability": true,
	"confidence":             true,
}

// normalize applies spec §4.1 step 5: coerce numeric strings, clamp
// probability-shaped fields to [0,1], reject NaN/Inf. Only the object's
// top-level fields are inspected; nested objects and arrays pass unchanged.
func normalize(obj map[string]interface{}) error {
	for key, val := range obj {
		coerced, err := coerceNumeric(val)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if f, ok := coerced.(float64); ok {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("field %q: NaN/Inf is not a valid value", key)
			}
			if probabilityFields[key] {
				clamped, verr := models.ValidateProbability(key, f)
				if verr != nil {
					return verr
				}
				f = clamped
			}
			obj[key] = f
			continue
		}
		obj[key] = coerced
	}
	return nil
}

// coerceNumeric converts a JSON string that looks like a number into a
// float64, matching providers that sometimes quote numeric fields. Any
// other value passes through unchanged.
func coerceNumeric(val interface{}) (interface{}, error) {
	s, ok := val.(string)
	if !ok {
		return val, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return val, nil
	}
	return f, nil
}
