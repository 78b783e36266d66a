package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

func registerCurrentTime(reg *Registry, now func() time.Time) error {
	return reg.Register(Tool{
		Definition: Definition{
			Name:        "current_time",
			Description: "Get the current date and time, optionally in a named IANA timezone.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone name (e.g. \"Europe/Paris\"). Default: UTC.",
					},
				},
			},
		},
		Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			loc := time.UTC
			if tz, ok := StringArg(args, "timezone"); ok && tz != "" {
				loc, err = time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown timezone: %s", tz)
				}
			}
			t := now().In(loc)
			return t.Format("Monday, January 2, 2006 15:04:05 MST"), nil
		},
	})
}
