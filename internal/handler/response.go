package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/inventory"
)

const maxBodyBytes = 1 << 20

// writeJSON writes the object produced by enc with the given status.
func writeJSON(w http.ResponseWriter, status int, enc func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	enc(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeStatusError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		encodeErrorFields(e, status, kind, msg)
		e.ObjEnd()
	})
}

func encodeErrorFields(e *jx.Encoder, status int, kind, msg string) {
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("kind")
	e.Str(kind)
	e.FieldStart("message")
	e.Str(msg)
}

// writeError maps err to its API response. Internal errors are logged and
// their cause is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	if kind == apperr.KindInternal {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	var stock *inventory.InsufficientStockError
	hasStock := errors.As(err, &stock)
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		encodeErrorFields(e, status, kind.String(), apperr.PublicMessage(err))
		if hasStock {
			e.FieldStart("details")
			e.ObjStart()
			e.FieldStart("product_id")
			e.Str(stock.ProductID)
			e.FieldStart("requested")
			e.Int(stock.Requested)
			e.FieldStart("available")
			e.Int(stock.Available)
			e.ObjEnd()
		}
		e.ObjEnd()
	})
}

var errMalformedBody = apperr.Validation("malformed JSON body")

// readJSON reads the request body as a JSON object and hands every field to
// field. Unknown fields must be skipped by field.
func readJSON(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	b, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body exceeds %d bytes", maxBodyBytes)
		}
		return errors.Wrap(err, "read body")
	}
	if len(b) == 0 {
		return apperr.Validation("request body is required")
	}
	d := jx.DecodeBytes(b)
	if d.Next() != jx.Object {
		return apperr.Validation("request body must be a JSON object")
	}
	if err := d.Obj(field); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return ae
		}
		return errMalformedBody
	}
	return nil
}
