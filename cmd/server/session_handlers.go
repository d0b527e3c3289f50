package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/satchelhq/satchel/internal/generation"
	"github.com/satchelhq/satchel/internal/session"
	"github.com/satchelhq/satchel/pkg/types"
)

func sessionIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid session id", types.ErrInvalidInput)
	}
	return id, nil
}

// formValue returns a field's value and whether the field was present at all.
// Presence matters for updates: an absent field is left untouched, an empty
// one is an explicit (and for name, invalid) value.
func formValue(form *multipart.Form, key string) (string, bool) {
	values, ok := form.Value[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func parseJSONField[T any](form *multipart.Form, key string) (T, error) {
	var parsed T
	raw, ok := formValue(form, key)
	if !ok || raw == "" {
		return parsed, nil
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return parsed, fmt.Errorf("%w: malformed %s", types.ErrInvalidInput, key)
	}
	return parsed, nil
}

func collectUploads(form *multipart.Form, maxBytes int64) ([]types.Upload, error) {
	var uploads []types.Upload
	for _, header := range form.File["files"] {
		if header.Size > maxBytes {
			return nil, fmt.Errorf("%w: file %q exceeds upload limit", types.ErrInvalidInput, header.Filename)
		}

		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: opening upload %q", types.ErrInvalidInput, header.Filename)
		}
		content, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading upload %q", types.ErrInvalidInput, header.Filename)
		}

		mediaType := header.Header.Get("Content-Type")
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}

		uploads = append(uploads, types.Upload{
			FileName:  header.Filename,
			MediaType: mediaType,
			Content:   content,
		})
	}
	return uploads, nil
}

func handleListSessions(sessions *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := sessions.List(c.Request.Context(), currentUserID(c))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    list,
		})
	}
}

func handleCreateSession(sessions *session.Service, maxUploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid multipart form",
			})
			return
		}

		name, _ := formValue(form, "name")
		description, _ := formValue(form, "description")
		instructions, _ := formValue(form, "instructions")

		generationList, err := parseJSONField[[]string](form, "generationList")
		if err != nil {
			respondError(c, err)
			return
		}
		configMap, err := parseJSONField[map[string]interface{}](form, "configMap")
		if err != nil {
			respondError(c, err)
			return
		}
		uploads, err := collectUploads(form, maxUploadBytes)
		if err != nil {
			respondError(c, err)
			return
		}

		created, err := sessions.Create(c.Request.Context(), currentUserID(c), session.CreateInput{
			Name:           name,
			Description:    description,
			Instructions:   instructions,
			Uploads:        uploads,
			GenerationList: generationList,
			ConfigMap:      configMap,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Message: "session created",
			Data:    created,
		})
	}
}

func handleGetSession(sessions *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := sessionIDParam(c)
		if err != nil {
			respondError(c, err)
			return
		}

		found, err := sessions.Get(c.Request.Context(), currentUserID(c), sessionID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    found,
		})
	}
}

func handleUpdateSession(sessions *session.Service, maxUploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := sessionIDParam(c)
		if err != nil {
			respondError(c, err)
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid multipart form",
			})
			return
		}

		var input session.UpdateInput
		if v, ok := formValue(form, "name"); ok {
			input.Name = &v
		}
		if v, ok := formValue(form, "description"); ok {
			input.Description = &v
		}
		if v, ok := formValue(form, "instructions"); ok {
			input.Instructions = &v
		}

		// An absent keepBlobIds leaves the file set alone; only a present
		// list (including an explicit []) rewrites it.
		if raw, ok := formValue(form, "keepBlobIds"); ok {
			keep := []string{}
			if err := json.Unmarshal([]byte(raw), &keep); err != nil {
				respondError(c, fmt.Errorf("%w: malformed keepBlobIds", types.ErrInvalidInput))
				return
			}
			input.KeepBlobRefs = keep
		}
		input.Uploads, err = collectUploads(form, maxUploadBytes)
		if err != nil {
			respondError(c, err)
			return
		}

		updated, err := sessions.Update(c.Request.Context(), currentUserID(c), sessionID, input)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "session updated",
			Data:    updated,
		})
	}
}

func handleDeleteSession(sessions *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := sessionIDParam(c)
		if err != nil {
			respondError(c, err)
			return
		}

		if err := sessions.Delete(c.Request.Context(), currentUserID(c), sessionID); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "session deleted",
		})
	}
}

func handleDownloadFile(sessions *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := sessionIDParam(c)
		if err != nil {
			respondError(c, err)
			return
		}

		reader, ref, err := sessions.OpenFile(c.Request.Context(), currentUserID(c), sessionID, c.Param("blobID"))
		if err != nil {
			respondError(c, err)
			return
		}
		defer reader.Close()

		c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", ref.FileName))
		c.Header("Content-Type", ref.FileType)
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, reader); err != nil {
			// Status already committed; all we can do is record it.
			log.Warn().
				Err(err).
				Str("session_id", sessionID.String()).
				Str("blob_id", ref.BlobRef).
				Msg("blob stream interrupted")
		}
	}
}

func handleGenerate(dispatcher *generation.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := sessionIDParam(c)
		if err != nil {
			respondError(c, err)
			return
		}

		job, err := dispatcher.Dispatch(c.Request.Context(), currentUserID(c), sessionID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, types.APIResponse{
			Success: true,
			Message: "generation queued",
			Data:    job,
		})
	}
}

func handleProgress(sessions *session.Service, progress *generation.Progress) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := sessionIDParam(c)
		if err != nil {
			respondError(c, err)
			return
		}

		// Ownership check before touching the progress store.
		if _, err := sessions.Get(c.Request.Context(), currentUserID(c), sessionID); err != nil {
			respondError(c, err)
			return
		}

		status, err := progress.Get(c.Request.Context(), sessionID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    status,
		})
	}
}
