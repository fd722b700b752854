package logger

import "log/slog"

// Error is an "error" attribute, or an empty one for nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func Slug(slug string) slog.Attr {
	return slog.String("slug", slug)
}

func FeatureID(id string) slog.Attr {
	return slog.String("feature_id", id)
}

func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}
