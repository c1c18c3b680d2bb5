package main

import (
	"net/http"
	"strings"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrSize = 320 // mobile-friendly size

// ShareURL joins path onto the public base URL. With no base configured it
// is derived from the request, honoring X-Forwarded-Proto.
func ShareURL(publicURL string, r *http.Request, path string) string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/") + path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + path
}

// QRHandler serves a PNG QR code linking to ?path= on this server, so a
// phone can open the game or the board
func QRHandler(publicURL string, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		url := ShareURL(publicURL, r, r.URL.Query().Get("path"))
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			log.Warn("qr generation failed", zap.String("url", url), zap.Error(err))
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(png)
	})
}
