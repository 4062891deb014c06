package remote

import (
	"net/url"

	"github.com/dmitrijs2005/beamup/internal/config"
)

// URL builders for the fixed endpoint shapes of the service. remoteID is the
// bucket name for items and "bucket/filename" for files. They are plain
// functions over the configuration so callers holding only the API interface
// can build targets too.

// BucketURL is the virtual-hosted endpoint the bucket-creation PUT targets.
func BucketURL(cfg *config.Config, remoteID string) string {
	u, err := url.Parse(cfg.StorageBaseURL)
	if err != nil {
		return cfg.StorageBaseURL + remoteID
	}
	return u.Scheme + "://" + remoteID + "." + u.Host
}

// MetadataUploadURL is where an item's metadata document is PUT.
func MetadataUploadURL(cfg *config.Config, remoteID string) string {
	return cfg.StorageBaseURL + remoteID + "/metadata.html"
}

// ObjectURL addresses a single object for PUT or DELETE.
func ObjectURL(cfg *config.Config, remoteID string) string {
	return cfg.StorageBaseURL + remoteID
}

// MetadataURL is the read endpoint for a bucket's metadata document.
func MetadataURL(cfg *config.Config, bucket string) string {
	return cfg.MetadataBaseURL + bucket
}

// TasksURL is the catalog page holding a bucket's task history.
func TasksURL(cfg *config.Config, bucket string) string {
	return cfg.TasksBaseURL + bucket
}

// DownloadURL is the public address of a bucket or object; it redirects to
// the storage host when the target exists.
func DownloadURL(cfg *config.Config, remoteID string) string {
	return cfg.DownloadBaseURL + remoteID
}
