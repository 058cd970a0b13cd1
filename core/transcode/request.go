package transcode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"craftworker/cache"
	"craftworker/core/apperr"
	"craftworker/core/audio"
	"craftworker/model"
)

// DecodeRequest parses a job request, rejecting unknown fields.
func DecodeRequest(raw []byte) (model.JobRequest, error) {
	var req model.JobRequest
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return req, apperr.Payload(`"value" is required`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, apperr.Payload(fmt.Sprintf("malformed job request: %v", err))
	}
	return req, nil
}

// ValidateRequest checks req before any side effect.
// Messages name the offending field the way request validators report them.
func ValidateRequest(req model.JobRequest, hasProgress bool) error {
	switch {
	case req.JobID == "":
		return apperr.Payload(`"jobId" is required`)
	case !audio.IsUUIDv4(req.JobID):
		return apperr.Payload(`"jobId" must be a valid GUID`)
	case strings.TrimSpace(req.Name) == "":
		return apperr.Payload(`"name" is required`)
	case req.Files == nil:
		return apperr.Payload(`"files" is required`)
	case len(req.Files) == 0:
		return apperr.Payload(`"files" must contain at least 1 items`)
	}

	for i, f := range req.Files {
		if err := validateFile(i, f); err != nil {
			return err
		}
	}

	if !hasProgress {
		return apperr.Payload(`"progress" is required`)
	}
	return nil
}

func validateFile(i int, f model.FileRef) error {
	field := func(name string) string { return fmt.Sprintf(`"files[%d].%s"`, i, name) }

	switch {
	case f.ID == "":
		return apperr.Payload(field("id") + " is required")
	case !cache.ValidID(f.ID):
		return apperr.Payload(field("id") + " must not contain path separators")
	case f.Kind == "":
		return apperr.Payload(field("kind") + " is required")
	case !f.Kind.Valid():
		return apperr.Payload(fmt.Sprintf("%s must be one of [%s, %s]", field("kind"), model.KindPodcastPart, model.KindUserInput))
	}

	if f.Seek == nil {
		return nil
	}
	if f.Seek.Start != nil && *f.Seek.Start < 0 {
		return apperr.Payload(field("seek.start") + " must be greater than or equal to 0")
	}
	if f.Seek.End != nil && *f.Seek.End <= 0 {
		return apperr.Payload(field("seek.end") + " must be a positive number")
	}
	if f.Seek.Start != nil && f.Seek.End != nil && *f.Seek.End <= *f.Seek.Start {
		return apperr.Payload(fmt.Sprintf("%s must be greater than %s", field("seek.end"), field("seek.start")))
	}
	return nil
}
