package server

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/reqctx"
)

// writeError renders err as the Anthropic error envelope with the request's
// correlation id in a response header. Cancellations produce no response.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	log := reqctx.Logger(ctx, s.log)

	if apperr.KindOf(err) == apperr.Cancelled {
		log.Debug("request cancelled", zap.Error(err))
		return
	}

	status := apperr.HTTPStatus(err)
	envelope := anthropic.NewErrorResponse(apperr.WireType(err), err.Error())

	log.Error("request failed",
		zap.Int("status", status),
		zap.String("error_type", envelope.Error.Type),
		zap.Error(err))

	setRequestID(ctx, w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

func setRequestID(ctx context.Context, w http.ResponseWriter) {
	if info := reqctx.From(ctx); info != nil {
		w.Header().Set("X-Request-ID", info.ID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
