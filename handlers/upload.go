package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/clipstream/vod-api/errors"
	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/upload"
	"github.com/clipstream/vod-api/video"
)

const (
	chunkIndexHeader  = "X-Chunk-Index"
	totalChunksHeader = "X-Total-Chunks"
)

var InitializeUploadRequestSchemaDefinition string = `{
	"type": "object",
	"properties": {
		"filename": {"type": "string", "minLength": 1},
		"content_type": {"type": "string"},
		"declared_size": {"type": "integer", "minimum": 1},
		"total_chunks": {"type": "integer", "minimum": 0},
		"title": {"type": "string", "maxLength": 255},
		"description": {"type": "string"}
	},
	"required": ["filename", "declared_size"],
	"additionalProperties": false
}`

// InitializeUpload validates the declared upload and hands back a ticket
// naming the chunk endpoint, the chunk size and the expiry.
func (d *VODHandlersCollection) InitializeUpload() httprouter.Handle {
	schema := inputSchemasCompiled["InitializeUpload"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var uploadRequest upload.Request

		if !HasContentType(req, "application/json") {
			errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		} else if payload, err := io.ReadAll(req.Body); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot validate payload", err)
			return
		} else if !result.Valid() {
			errors.WriteHTTPBadBodySchema("InitializeUpload", w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &uploadRequest); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		user, ok := caller(w, req)
		if !ok {
			return
		}

		_, ticket, err := d.Uploads.Initialize(req.Context(), user, uploadRequest)
		if err != nil {
			errors.WriteHTTPForError(w, "Cannot initialize upload", err)
			return
		}
		writeJSON(w, http.StatusCreated, ticket, ticket.VideoID)
	}
}

type ChunkUploadResponse struct {
	VideoID        string       `json:"video_id"`
	Status         video.Status `json:"status"`
	ChunksReceived int          `json:"chunks_received"`
	TotalChunks    int          `json:"total_chunks"`
	UploadProgress float64      `json:"upload_progress"`
}

// UploadChunk receives one raw chunk body. Indexing rides in headers so the
// body stays untouched bytes. When the final chunk lands the upload is
// already composed by the time a response goes out, and processing is kicked
// off before answering.
func (d *VODHandlersCollection) UploadChunk() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		chunkSize := d.Uploads.ChunkSize()
		id := params.ByName("id")
		user, ok := caller(w, req)
		if !ok {
			return
		}

		index, err := strconv.Atoi(req.Header.Get(chunkIndexHeader))
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Missing or malformed "+chunkIndexHeader+" header", err)
			return
		}
		total, err := strconv.Atoi(req.Header.Get(totalChunksHeader))
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Missing or malformed "+totalChunksHeader+" header", err)
			return
		}
		if req.ContentLength > chunkSize {
			errors.WriteHTTPPayloadTooLarge(w, fmt.Sprintf("Chunk exceeds the %d byte limit", chunkSize), nil)
			return
		}

		body := http.MaxBytesReader(w, req.Body, chunkSize)
		record, err := d.Uploads.UploadChunk(req.Context(), id, index, total, body, user.ID)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if stderrors.As(err, &tooLarge) {
				errors.WriteHTTPPayloadTooLarge(w, fmt.Sprintf("Chunk exceeds the %d byte limit", chunkSize), nil)
				return
			}
			errors.WriteHTTPForError(w, "Cannot store chunk", err)
			return
		}

		if record.Status == video.StatusUploaded {
			if err := d.Engine.StartProcessing(req.Context(), id); err != nil {
				// The upload is durable either way; a failed kick is retried
				// via the retry endpoint or picked up by the janitor's stall
				// handling, never surfaced as an upload failure.
				log.LogError(id, "upload complete but processing did not start", err)
			} else if refreshed, err := d.Uploads.Status(req.Context(), id, user.ID); err == nil {
				record = refreshed
			}
		}

		writeJSON(w, http.StatusOK, ChunkUploadResponse{
			VideoID:        record.ID,
			Status:         record.Status,
			ChunksReceived: record.ChunksReceived,
			TotalChunks:    record.TotalChunks,
			UploadProgress: record.UploadProgress,
		}, id)
	}
}
