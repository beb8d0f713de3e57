package http

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
)

type createJobBody struct {
	Subject string                  `json:"subject"`
	Text    string                  `json:"text"`
	Params  domain.GenerationParams `json:"params"`
}

type createJobResponse struct {
	JobID string `json:"jobId"`
}

// createJob accepts either a JSON body carrying text or a multipart form carrying a pdf file.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var (
		req app.CreateJobRequest
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, err = s.jobFromForm(w, r)
	} else {
		req, err = s.jobFromJSON(w, r)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.OwnerID = requesterID(r)
	if strings.TrimSpace(req.Subject) == "" {
		req.Subject = s.cfg.DefaultSubject
	}

	jobID, err := s.svc.Jobs.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createJobResponse{JobID: jobID})
}

func (s *Server) jobFromJSON(w http.ResponseWriter, r *http.Request) (app.CreateJobRequest, error) {
	body := createJobBody{Params: domain.DefaultGenerationParams()}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := decodeBody(r.Body, &body); err != nil {
		return app.CreateJobRequest{}, err
	}
	return app.CreateJobRequest{
		Subject:    body.Subject,
		SourceKind: domain.SourceText,
		Payload:    []byte(body.Text),
		Params:     body.Params,
	}, nil
}

func (s *Server) jobFromForm(w http.ResponseWriter, r *http.Request) (app.CreateJobRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return app.CreateJobRequest{}, domain.NewValidationError("form", "must be a multipart form within the upload limit")
	}
	params, err := paramsFromForm(r)
	if err != nil {
		return app.CreateJobRequest{}, err
	}
	req := app.CreateJobRequest{Subject: r.FormValue("subject"), Params: params}

	file, _, err := r.FormFile("pdf")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return app.CreateJobRequest{}, domain.NewValidationError("pdf", "could not be read")
		}
		req.SourceKind = domain.SourcePDF
		req.Payload = data
	case errors.Is(err, http.ErrMissingFile):
		req.SourceKind = domain.SourceText
		req.Payload = []byte(r.FormValue("text"))
	default:
		return app.CreateJobRequest{}, domain.NewValidationError("pdf", "could not be read")
	}
	return req, nil
}

// paramsFromForm reads generation parameters, keeping defaults for omitted fields.
func paramsFromForm(r *http.Request) (domain.GenerationParams, error) {
	params := domain.DefaultGenerationParams()
	ints := []struct {
		field string
		dst   *int
	}{
		{"numMCQs", &params.NumMCQ},
		{"numDescriptive", &params.NumDescriptive},
	}
	for _, f := range ints {
		if raw := strings.TrimSpace(r.FormValue(f.field)); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return params, domain.NewValidationError(f.field, "must be an integer")
			}
			*f.dst = v
		}
	}
	floats := []struct {
		field string
		dst   *float64
	}{
		{"mcqMarks", &params.MCQMarks},
		{"descriptiveMarks", &params.DescriptiveMarks},
	}
	for _, f := range floats {
		if raw := strings.TrimSpace(r.FormValue(f.field)); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return params, domain.NewValidationError(f.field, "must be a number")
			}
			*f.dst = v
		}
	}
	return params, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Jobs.GetStatus(r.Context(), chi.URLParam(r, "id"), requesterID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
