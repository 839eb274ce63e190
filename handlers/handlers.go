package handlers

import (
	"net/http"
	"strings"

	"github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/middleware"
	"github.com/nijaru/yt-transcript/models"
	"github.com/nijaru/yt-transcript/utils"
	"github.com/nijaru/yt-transcript/validation"
	"github.com/sirupsen/logrus"
)

const (
	defaultLanguage = "en"
	textSuffix      = "/text"
)

type TranscriptResponse struct {
	VideoID      string           `json:"video_id"`
	Language     string           `json:"language"`
	LanguageCode string           `json:"language_code"`
	IsGenerated  bool             `json:"is_generated"`
	Segments     []models.Segment `json:"segments"`
}

type TextResponse struct {
	VideoID      string `json:"video_id"`
	Language     string `json:"language"`
	LanguageCode string `json:"language_code"`
	Text         string `json:"text"`
}

type ListResponse struct {
	VideoID     string                  `json:"video_id"`
	Transcripts []models.TranscriptInfo `json:"transcripts"`
}

// handleTranscript serves GET /transcript/{video} and its /text variant.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("video")
	textOnly := strings.HasSuffix(ref, textSuffix)
	if textOnly {
		ref = strings.TrimSuffix(ref, textSuffix)
	}

	videoID, err := validation.Canonicalize(videoReference(r, ref))
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = defaultLanguage
	}
	if err := validation.ValidateLanguage(lang); err != nil {
		s.handleError(w, r, err)
		return
	}

	t, err := s.provider.Fetch(r.Context(), videoID, lang)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	if textOnly {
		utils.RespondJSON(w, http.StatusOK, TextResponse{
			VideoID:      videoID,
			Language:     t.Language,
			LanguageCode: t.LanguageCode,
			Text:         models.JoinText(t.Segments),
		})
		return
	}

	segments := t.Segments
	if segments == nil {
		segments = []models.Segment{}
	}
	utils.RespondJSON(w, http.StatusOK, TranscriptResponse{
		VideoID:      videoID,
		Language:     t.Language,
		LanguageCode: t.LanguageCode,
		IsGenerated:  t.IsGenerated,
		Segments:     segments,
	})
}

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	videoID, err := validation.Canonicalize(videoReference(r, r.PathValue("video")))
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	infos, err := s.provider.List(r.Context(), videoID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if infos == nil {
		infos = []models.TranscriptInfo{}
	}

	utils.RespondJSON(w, http.StatusOK, ListResponse{VideoID: videoID, Transcripts: infos})
}

// videoReference puts back a watch URL's v parameter, which the router
// splits off into the query string.
func videoReference(r *http.Request, ref string) string {
	if v := r.URL.Query().Get("v"); v != "" {
		return ref + "?v=" + v
	}
	return ref
}

// handleError logs expected outcomes at info and anything unexpected at
// error, then writes the error document.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errors.KindOf(err)
	entry := s.logger.WithFields(logrus.Fields{
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"code":       kind.String(),
	}).WithError(err)

	switch kind {
	case errors.KindUpstream, errors.KindInternal, errors.KindStorage:
		entry.Error("Request failed")
	default:
		entry.Info("Request rejected")
	}

	utils.HandleError(w, err)
}
