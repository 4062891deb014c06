package remote

import (
	"net/http"

	"github.com/dmitrijs2005/beamup/internal/config"
)

// HeaderOptions selects the request headers for one transfer. The service
// takes all object metadata through x-archive-meta-* headers; bucket
// auto-creation and cascade deletion are likewise header-driven.
type HeaderOptions struct {
	Title          string
	MediaType      string // overrides the configured default when set
	NoIndex        bool
	AutoMakeBucket bool
	CascadeDelete  bool
}

// Headers builds the full header set for a PUT or DELETE, including the
// static LOW authorization pair.
func Headers(cfg *config.Config, opts HeaderOptions) http.Header {
	h := http.Header{}
	h.Set("authorization", "LOW "+cfg.AccessKey+":"+cfg.SecretKey)
	h.Set("x-archive-metadata-collection", cfg.CollectionName)
	h.Set("x-archive-meta-creator", cfg.Creator)

	mediaType := cfg.MediaType
	if opts.MediaType != "" {
		mediaType = opts.MediaType
	}
	h.Set("x-archive-meta-mediatype", mediaType)

	if opts.Title != "" {
		h.Set("x-archive-meta-title", opts.Title)
	}
	if opts.NoIndex {
		h.Set("x-archive-meta-noindex", "1")
	} else {
		h.Set("x-archive-meta-noindex", "0")
	}
	if opts.AutoMakeBucket {
		h.Set("x-amz-auto-make-bucket", "1")
	}
	if opts.CascadeDelete {
		h.Set("x-archive-cascade-delete", "1")
	}
	return h
}
