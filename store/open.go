package store

import (
	"context"
	"net/url"
	"strings"

	"github.com/actionforge/flowrun/core"
)

// Open picks a backend by the scheme of uri:
//
//	memory:
//	sqlite:<path>            sqlite:///abs/path.db
//	mongodb://host/<database>  mongodb+srv://...
//	s3://<bucket>/<prefix>?region=...&endpoint=...
//
// Credentials for mongodb and s3 may be part of the uri, otherwise the
// driver defaults apply (AWS_* env vars, shared config files).
func Open(ctx context.Context, uri string) (Store, error) {
	scheme, rest, found := strings.Cut(uri, ":")
	if !found || scheme == "" {
		return nil, core.CreateErr(nil, "invalid store uri '%s'", uri).
			SetHint("Use one of memory:, sqlite:<path>, mongodb://<host>/<database> or s3://<bucket>/<prefix>.")
	}

	switch strings.ToLower(scheme) {
	case "memory":
		return NewMemoryStore(), nil

	case "sqlite":
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			return nil, core.CreateErr(nil, "sqlite store uri has no path")
		}
		return NewSQLiteStore(path)

	case "mongodb", "mongodb+srv":
		u, err := url.Parse(uri)
		if err != nil {
			return nil, core.CreateErr(err, "invalid mongodb uri")
		}
		return NewMongoStore(ctx, MongoOpts{
			Url:      uri,
			Database: strings.Trim(u.Path, "/"),
		})

	case "s3":
		u, err := url.Parse(uri)
		if err != nil {
			return nil, core.CreateErr(err, "invalid s3 uri")
		}
		opts := S3Opts{
			Bucket:   u.Host,
			Prefix:   strings.Trim(u.Path, "/"),
			Region:   u.Query().Get("region"),
			Endpoint: u.Query().Get("endpoint"),
		}
		if u.User != nil {
			opts.AccessKey = u.User.Username()
			opts.SecretKey, _ = u.User.Password()
		}
		return NewS3Store(ctx, opts)
	}

	return nil, core.CreateErr(nil, "unsupported store scheme '%s'", scheme)
}
