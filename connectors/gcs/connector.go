// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gcs

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/objectstore"
	"conhub/platform/connectors/sdk"
)

// Type is the connector type name used in configuration
const Type = "gcs"

// Connector serves one Google Cloud Storage bucket
type Connector struct {
	*objectstore.Connector
}

// NewConnector creates a GCS connector registered under id
func NewConnector(id string) *Connector {
	bc := sdk.NewConnectorBuilder(id, Type).
		WithName("Google Cloud Storage").
		WithValidator(sdk.NewDefaultConfigValidator([]string{"bucket"}, nil)).
		Build()
	return &Connector{Connector: objectstore.New(bc, open, toItem)}
}

func open(ctx context.Context, cfg *base.ConnectorConfig) (objectstore.Bucket, error) {
	var opts []option.ClientOption
	if credFile := cfg.Credentials["credentials_file"]; credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	} else if credJSON := cfg.Credentials["credentials_json"]; credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}
	// emulators and fake servers
	if endpoint, _ := cfg.Options["endpoint"].(string); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	if anonymous, _ := cfg.Options["anonymous"].(bool); anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	bucket, _ := cfg.Options["bucket"].(string)
	return &bucketHandle{client: client, bucket: client.Bucket(bucket)}, nil
}

// bucketHandle adapts a GCS bucket to objectstore.Bucket
type bucketHandle struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func (b *bucketHandle) Ping(ctx context.Context) error {
	_, err := b.bucket.Attrs(ctx)
	return err
}

func (b *bucketHandle) List(ctx context.Context, prefix string, max int) ([]objectstore.Object, error) {
	query := &storage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name", "Size", "Updated", "ContentType", "Etag", "MediaLink"}); err != nil {
		return nil, err
	}

	var out []objectstore.Object
	it := b.bucket.Objects(ctx, query)
	for len(out) < max {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fromAttrs(attrs))
	}
	return out, nil
}

func (b *bucketHandle) Head(ctx context.Context, key string) (objectstore.Object, error) {
	attrs, err := b.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return objectstore.Object{}, notExist(err)
	}
	return fromAttrs(attrs), nil
}

func (b *bucketHandle) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, notExist(err)
	}
	return r, nil
}

// Close releases the storage client
func (b *bucketHandle) Close() error {
	return b.client.Close()
}

func fromAttrs(attrs *storage.ObjectAttrs) objectstore.Object {
	return objectstore.Object{
		Key:          attrs.Name,
		Size:         attrs.Size,
		LastModified: attrs.Updated,
		ContentType:  attrs.ContentType,
		ETag:         attrs.Etag,
		URL:          attrs.MediaLink,
	}
}

func notExist(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Join(objectstore.ErrNotExist, err)
	}
	return err
}

// toItem renders objects with the GCS ObjectAttrs field names
func toItem(obj objectstore.Object) base.Item {
	item := base.Item{
		"name":    obj.Key,
		"Size":    obj.Size,
		"Updated": obj.LastModified,
	}
	if obj.ContentType != "" {
		item["ContentType"] = obj.ContentType
	}
	if obj.ETag != "" {
		item["Etag"] = obj.ETag
	}
	if obj.URL != "" {
		item["MediaLink"] = obj.URL
	}
	return item
}
