package decode

import (
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// floatToIntHook：JSON 解出的数字是 float64，目标是整型时做无损转换
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.Float64 {
			return data, nil
		}
		f := data.(float64)
		switch to.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if f != math.Trunc(f) {
				return nil, errors.Errorf("value %v is not an integer", f)
			}
			return int64(f), nil
		default:
			return data, nil
		}
	}
}
