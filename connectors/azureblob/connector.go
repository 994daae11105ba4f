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

package azureblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/objectstore"
	"conhub/platform/connectors/sdk"
)

// Type is the connector type name used in configuration
const Type = "azure-blob"

// Connector serves one Azure Blob Storage container
type Connector struct {
	*objectstore.Connector
}

// NewConnector creates an Azure Blob connector registered under id
func NewConnector(id string) *Connector {
	bc := sdk.NewConnectorBuilder(id, Type).
		WithName("Azure Blob Storage").
		WithValidator(sdk.NewDefaultConfigValidator([]string{"container"}, nil)).
		Build()
	return &Connector{Connector: objectstore.New(bc, open, toItem)}
}

// serviceURL resolves the account endpoint from account_url or account_name
func serviceURL(cfg *base.ConnectorConfig) string {
	if u, _ := cfg.Options["account_url"].(string); u != "" {
		return strings.TrimSuffix(u, "/") + "/"
	}
	if name, _ := cfg.Options["account_name"].(string); name != "" {
		return fmt.Sprintf("https://%s.blob.core.windows.net/", name)
	}
	return ""
}

// newClient picks the authentication method: connection string, then shared
// key, then the default Azure credential chain (managed identity, CLI, env).
func newClient(cfg *base.ConnectorConfig) (*azblob.Client, error) {
	if cs := cfg.Credentials["connection_string"]; cs != "" {
		return azblob.NewClientFromConnectionString(cs, nil)
	}

	url := serviceURL(cfg)
	if url == "" {
		return nil, errors.New("account_url or account_name is required")
	}

	if key := cfg.Credentials["account_key"]; key != "" {
		name, _ := cfg.Options["account_name"].(string)
		if name == "" {
			return nil, errors.New("account_name is required with account_key")
		}
		cred, err := azblob.NewSharedKeyCredential(name, key)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", err)
		}
		return azblob.NewClientWithSharedKeyCredential(url, cred, nil)
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return azblob.NewClient(url, cred, nil)
}

func open(ctx context.Context, cfg *base.ConnectorConfig) (objectstore.Bucket, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	name, _ := cfg.Options["container"].(string)
	return &containerHandle{
		client:    client,
		name:      name,
		container: client.ServiceClient().NewContainerClient(name),
	}, nil
}

// containerHandle adapts a blob container to objectstore.Bucket
type containerHandle struct {
	client    *azblob.Client
	name      string
	container *container.Client
}

func (h *containerHandle) Ping(ctx context.Context) error {
	_, err := h.container.GetProperties(ctx, nil)
	return err
}

func (h *containerHandle) List(ctx context.Context, prefix string, max int) ([]objectstore.Object, error) {
	opts := &container.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}

	var out []objectstore.Object
	pager := h.container.NewListBlobsFlatPager(opts)
	for pager.More() && len(out) < max {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Segment.BlobItems {
			if len(out) >= max {
				break
			}
			obj := objectstore.Object{Key: deref(item.Name)}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					obj.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					obj.LastModified = *p.LastModified
				}
				obj.ContentType = deref(p.ContentType)
				if p.ETag != nil {
					obj.ETag = string(*p.ETag)
				}
			}
			out = append(out, obj)
		}
	}
	return out, nil
}

func (h *containerHandle) Head(ctx context.Context, key string) (objectstore.Object, error) {
	props, err := h.container.NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return objectstore.Object{}, notExist(err)
	}
	obj := objectstore.Object{Key: key, ContentType: deref(props.ContentType)}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		obj.LastModified = *props.LastModified
	}
	if props.ETag != nil {
		obj.ETag = string(*props.ETag)
	}
	return obj, nil
}

func (h *containerHandle) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := h.client.DownloadStream(ctx, h.name, key, nil)
	if err != nil {
		return nil, notExist(err)
	}
	return resp.Body, nil
}

func notExist(err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return errors.Join(objectstore.ErrNotExist, err)
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// toItem renders blobs with the Azure blob property names
func toItem(obj objectstore.Object) base.Item {
	item := base.Item{
		"name":          obj.Key,
		"ContentLength": obj.Size,
		"LastModified":  obj.LastModified,
	}
	if obj.ContentType != "" {
		item["ContentType"] = obj.ContentType
	}
	if obj.ETag != "" {
		item["ETag"] = obj.ETag
	}
	return item
}
