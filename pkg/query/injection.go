package query

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheck is the result of screening one parameter value.
type InjectionCheck struct {
	ParamName   string
	ParamValue  any
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// ScreenParameter runs libinjection over a parameter value. Only string
// values are screened; numbers, booleans and nil cannot carry an injection
// payload and return nil.
//
// This screening sits in front of the naive quoting in Render: it cannot make
// unescaped substitution safe, it only catches the common break-out patterns.
func ScreenParameter(name string, value any) *InjectionCheck {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}

	return &InjectionCheck{
		ParamName:   name,
		ParamValue:  value,
		Fingerprint: string(fingerprint),
	}
}

// ScreenParameters screens every supplied parameter value and returns one
// InjectionCheck per flagged value. Empty result means all values are clean.
func ScreenParameters(params map[string]any) []*InjectionCheck {
	var flagged []*InjectionCheck
	for name, value := range params {
		if check := ScreenParameter(name, value); check != nil {
			flagged = append(flagged, check)
		}
	}
	return flagged
}
