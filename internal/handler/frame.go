package handler

import (
	"bytes"
	"encoding/json"
	"html/template"
	"io"
	"net/http"

	"github.com/moxie-stats/internal/service"
)

// framePost is the body a frame client posts on a button press
type framePost struct {
	UntrustedData struct {
		FID         json.Number `json:"fid"`
		ButtonIndex int         `json:"buttonIndex"`
		State       string      `json:"state"`
	} `json:"untrustedData"`
}

// page is the data of the frame HTML template
type page struct {
	Title         string
	Description   string
	OGTitle       string
	OGImage       string
	CastActionURL string
	Frame         service.Frame
}

var pageTemplate = template.Must(template.New("frame").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{- if .Description}}
<meta name="description" content="{{.Description}}">
{{- end}}
<meta property="og:title" content="{{.OGTitle}}">
<meta property="og:image" content="{{.OGImage}}">
<meta property="fc:frame" content="vNext">
<meta property="fc:frame:image" content="{{.Frame.Image}}">
<meta property="fc:frame:image:aspect_ratio" content="{{.Frame.AspectRatio}}">
<meta property="fc:frame:post_url" content="{{.Frame.PostURL}}">
{{- if .Frame.State}}
<meta property="fc:frame:state" content="{{.Frame.State}}">
{{- end}}
{{- range $i, $b := .Frame.Buttons}}
<meta property="fc:frame:button:{{inc $i}}" content="{{$b.Label}}">
<meta property="fc:frame:button:{{inc $i}}:action" content="{{$b.Action}}">
{{- if $b.Target}}
<meta property="fc:frame:button:{{inc $i}}:target" content="{{$b.Target}}">
{{- end}}
{{- end}}
{{- if .CastActionURL}}
<meta property="fc:frame:cast_action:url" content="{{.CastActionURL}}">
{{- end}}
</head>
<body>
<h1>{{.Title}}</h1>
</body>
</html>
`))

// Frames serves the interactive frame. The fid comes from the posted frame
// message, then the userfid query parameter, then the frame state.
func (h *Handler) Frames(w http.ResponseWriter, r *http.Request) {
	req := service.FrameRequest{
		Method:   r.Method,
		QueryFID: r.URL.Query().Get("userfid"),
	}

	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to read frame message")
		}
		var msg framePost
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &msg); err != nil {
				h.log.Warn().Err(err).Msg("Malformed frame message")
			}
		}
		req.MessageFID = msg.UntrustedData.FID.String()
		req.ButtonIndex = msg.UntrustedData.ButtonIndex
		req.StateFID = service.ParseFrameState(msg.UntrustedData.State)
	}

	frame := h.frames.Build(r.Context(), req)

	h.writeHTML(w, page{
		Title:   "Moxie Stats",
		OGTitle: "Moxie Stats",
		OGImage: frame.Image,
		Frame:   frame,
	})
}

// LandingPage serves the metadata page that embeds the initial frame
func (h *Handler) LandingPage(w http.ResponseWriter, r *http.Request) {
	meta := h.frames.Metadata(r.Context(), r.URL.Query().Get("userfid"))

	h.writeHTML(w, page{
		Title:         meta.Title,
		Description:   meta.Description,
		OGTitle:       meta.OGTitle,
		OGImage:       meta.OGImage,
		CastActionURL: meta.CastActionURL,
		Frame:         meta.Frame,
	})
}

func (h *Handler) writeHTML(w http.ResponseWriter, p page) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		h.log.Error().Err(err).Msg("Failed to render frame page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
