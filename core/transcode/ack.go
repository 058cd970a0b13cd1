package transcode

import (
	"net/http"

	"craftworker/core/apperr"
	"craftworker/model"
)

// Fixed acknowledgement for failures outside the typed set.
const (
	InternalErrorName    = "InternalServerError"
	InternalErrorMessage = "Internal server error"
)

// SuccessAck acknowledges a registered craft.
func SuccessAck(craftID string) model.Ack {
	return model.Ack{StatusCode: http.StatusCreated, Data: &model.AckData{CraftID: craftID}}
}

// ErrorAck translates err into the acknowledgement sent to the caller.
// Untyped errors never leak their text.
func ErrorAck(err error) model.Ack {
	e, ok := apperr.As(err)
	if !ok {
		return internalAck()
	}

	switch e.Kind {
	case apperr.KindPayload,
		apperr.KindWorkerBusy,
		apperr.KindUnsupportedKind,
		apperr.KindStorageFetch,
		apperr.KindStorageService,
		apperr.KindValidation,
		apperr.KindNotFound,
		apperr.KindDecode,
		apperr.KindTranscodingKilled,
		apperr.KindMerge,
		apperr.KindFilePath,
		apperr.KindFileNotFound,
		apperr.KindJobID,
		apperr.KindUploadService,
		apperr.KindSave,
		apperr.KindCatalogService:
		code := e.Code
		if code == 0 {
			code = apperr.DefaultCode(e.Kind)
		}
		return model.Ack{StatusCode: code, ErrorName: string(e.Kind), Message: e.Message}
	default:
		return internalAck()
	}
}

func internalAck() model.Ack {
	return model.Ack{
		StatusCode: http.StatusInternalServerError,
		ErrorName:  InternalErrorName,
		Message:    InternalErrorMessage,
	}
}
