package domain

// EvalContext carries the subject identity and attributes used for
// targeting and bucketing. Empty strings mean "not provided".
type EvalContext struct {
	UserID     string            `json:"user_id,omitempty"`
	DeviceID   string            `json:"device_id,omitempty"`
	AppVersion string            `json:"app_version,omitempty"`
	OSName     string            `json:"os_name,omitempty"`
	OSVersion  string            `json:"os_version,omitempty"`
	Locale     string            `json:"locale,omitempty"`
	Region     string            `json:"region,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SubjectID returns the identity used for bucketing: the user id when set,
// otherwise the device id.
func (c EvalContext) SubjectID() (string, bool) {
	if c.UserID != "" {
		return c.UserID, true
	}
	if c.DeviceID != "" {
		return c.DeviceID, true
	}
	return "", false
}

// Attribute returns a custom attribute.
func (c EvalContext) Attribute(key string) (string, bool) {
	if c.Attributes == nil {
		return "", false
	}
	v, ok := c.Attributes[key]
	return v, ok
}
