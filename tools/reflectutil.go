package tools

import "reflect"

// newOf allocates a new zero value of the same concrete type as sample and
// returns a pointer to it, so mapstructure has somewhere typed to decode
// into even though Def.ArgsType is stored as a plain any.
func newOf(sample any) any {
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.New(t).Interface()
}
