package api

import (
	"html/template"
	"log/slog"
	"net/http"
	"regexp"
)

const (
	defaultShareTarget = "https://www.answerbook.app/"
	shareTitle         = "Answer Book"
	shareDescription   = "I just got guidance from the Answer Book"
)

var twitterBot = regexp.MustCompile(`(?i)twitterbot`)

var shareTemplate = template.Must(template.New("share").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width,initial-scale=1" />
  <title>{{.Title}}</title>
  <meta property="og:title" content="{{.Title}}" />
  <meta property="og:description" content="{{.Description}}" />
  <meta property="og:image" content="{{.Image}}" />
  <meta property="og:url" content="{{.Target}}" />
  <meta name="twitter:card" content="summary_large_image" />
  <meta name="twitter:title" content="{{.Title}}" />
  <meta name="twitter:description" content="{{.Description}}" />
  <meta name="twitter:image" content="{{.Image}}" />
  <meta name="twitter:url" content="{{.Target}}" />
  <link rel="canonical" href="{{.Target}}" />
</head>
<body></body>
</html>
`))

type sharePage struct {
	Title       string
	Description string
	Image       string
	Target      string
}

// Share handles GET /share?image=. Twitter's crawler gets a social card;
// everyone else is redirected to the site.
func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	target := h.opts.ShareTargetURL
	if !twitterBot.MatchString(r.UserAgent()) {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	w.WriteHeader(http.StatusOK)
	err := shareTemplate.Execute(w, sharePage{
		Title:       shareTitle,
		Description: shareDescription,
		Image:       r.URL.Query().Get("image"),
		Target:      target,
	})
	if err != nil {
		slog.Error("Failed to render share page", "error", err)
	}
}
