package ingest

import (
	"errors"
	"fmt"

	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/source"
	"github.com/hbomb79/Tempo/internal/storage"
)

type (
	TroubleType int
	Trouble     struct {
		error
		tType TroubleType
	}

	ResolutionType  int
	RetryResolution struct{}
	AbortResolution struct{}
)

const (
	UNSUPPORTED_URL TroubleType = iota
	CONFIGURATION_FAILURE
	EXTRACTION_FAILURE
	NORMALIZATION_FAILURE
	DOWNLOAD_FAILURE
	PERSISTENCE_FAILURE
)

const (
	RETRY ResolutionType = iota
	ABORT
)

var allowedResolutionTypes = map[TroubleType][]ResolutionType{
	UNSUPPORTED_URL:       {ABORT},
	CONFIGURATION_FAILURE: {ABORT, RETRY},
	EXTRACTION_FAILURE:    {ABORT, RETRY},
	NORMALIZATION_FAILURE: {ABORT, RETRY},
	DOWNLOAD_FAILURE:      {ABORT, RETRY},
	PERSISTENCE_FAILURE:   {ABORT, RETRY},
}

// newTrouble classifies an error raised while ingesting. Errors which
// indicate missing configuration take precedence over the stage the error
// was raised in.
func newTrouble(stage TroubleType, err error) Trouble {
	switch {
	case errors.Is(err, source.ErrUnsupportedURL):
		return Trouble{error: err, tType: UNSUPPORTED_URL}
	case errors.Is(err, extract.ErrExtractorUnavailable), errors.Is(err, storage.ErrBackendUnusable):
		return Trouble{error: err, tType: CONFIGURATION_FAILURE}
	}

	return Trouble{error: err, tType: stage}
}

func (t *Trouble) Type() TroubleType { return t.tType }

func (t *Trouble) Unwrap() error { return t.error }

func (t *Trouble) AllowedResolutionTypes() []ResolutionType {
	if allowed, ok := allowedResolutionTypes[t.tType]; ok {
		return allowed
	}

	return []ResolutionType{}
}

func (t *Trouble) isResolutionTypeAllowed(resType ResolutionType) bool {
	for _, v := range t.AllowedResolutionTypes() {
		if v == resType {
			return true
		}
	}

	return false
}

func (t *Trouble) GenerateResolution(resolutionMethod ResolutionType) (any, error) {
	if !t.isResolutionTypeAllowed(resolutionMethod) {
		return nil, ErrResolutionIncompatible
	}

	switch resolutionMethod {
	case ABORT:
		return &AbortResolution{}, nil
	case RETRY:
		return &RetryResolution{}, nil
	default:
		return nil, ErrResolutionIncompatible
	}
}

func (t TroubleType) String() string {
	switch t {
	case UNSUPPORTED_URL:
		return fmt.Sprintf("UNSUPPORTED_URL[%d]", t)
	case CONFIGURATION_FAILURE:
		return fmt.Sprintf("CONFIGURATION_FAILURE[%d]", t)
	case EXTRACTION_FAILURE:
		return fmt.Sprintf("EXTRACTION_FAILURE[%d]", t)
	case NORMALIZATION_FAILURE:
		return fmt.Sprintf("NORMALIZATION_FAILURE[%d]", t)
	case DOWNLOAD_FAILURE:
		return fmt.Sprintf("DOWNLOAD_FAILURE[%d]", t)
	case PERSISTENCE_FAILURE:
		return fmt.Sprintf("PERSISTENCE_FAILURE[%d]", t)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", t)
	}
}

func (r ResolutionType) String() string {
	switch r {
	case RETRY:
		return "retry"
	case ABORT:
		return "abort"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", r)
	}
}
