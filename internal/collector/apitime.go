package collector

import (
	"encoding/json"
	"fmt"
	"time"
)

// Azure DevOps emits RFC 3339 timestamps, except for never-set dates which come
// back without a zone, e.g. "0001-01-01T00:00:00".
var apiTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// apiTime decodes the timestamp formats returned by the REST API
type apiTime struct {
	time.Time
}

func (t *apiTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}

	for _, layout := range apiTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
