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

package s3

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/objectstore"
	"conhub/platform/connectors/sdk"
)

// Type is the connector type name used in configuration
const Type = "s3"

// api is the part of the S3 client the connector uses
type api interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Connector serves one S3 bucket. S3-compatible stores (MinIO, R2) work
// through the endpoint and force_path_style options.
type Connector struct {
	*objectstore.Connector
}

// NewConnector creates an S3 connector registered under id
func NewConnector(id string) *Connector {
	bc := sdk.NewConnectorBuilder(id, Type).
		WithName("Amazon S3").
		WithValidator(sdk.NewDefaultConfigValidator(
			[]string{"bucket"}, // credentials may come from the default chain
			map[string]interface{}{"region": "us-east-1"},
		)).
		Build()
	return &Connector{Connector: objectstore.New(bc, open, toItem)}
}

func open(ctx context.Context, cfg *base.ConnectorConfig) (objectstore.Bucket, error) {
	region, _ := cfg.Options["region"].(string)
	endpoint, _ := cfg.Options["endpoint"].(string)
	forcePathStyle, _ := cfg.Options["force_path_style"].(bool)
	bucket, _ := cfg.Options["bucket"].(string)

	optFns := []func(*config.LoadOptions) error{config.WithRegion(region)}

	// explicit keys win over the default credential chain
	accessKeyID := cfg.Credentials["access_key_id"]
	secretAccessKey := cfg.Credentials["secret_access_key"]
	if accessKeyID != "" && secretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, cfg.Credentials["session_token"])
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = forcePathStyle
	})
	return &bucketHandle{client: client, bucket: bucket}, nil
}

// bucketHandle adapts an S3 bucket to objectstore.Bucket
type bucketHandle struct {
	client api
	bucket string
}

func (b *bucketHandle) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}

func (b *bucketHandle) List(ctx context.Context, prefix string, max int) ([]objectstore.Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(b.bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var out []objectstore.Object
	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() && len(out) < max {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if len(out) >= max {
				break
			}
			out = append(out, objectstore.Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), "\""),
			})
		}
	}
	return out, nil
}

func (b *bucketHandle) Head(ctx context.Context, key string) (objectstore.Object, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return objectstore.Object{}, notExist(err)
	}
	return objectstore.Object{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         strings.Trim(aws.ToString(out.ETag), "\""),
	}, nil
}

func (b *bucketHandle) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, notExist(err)
	}
	return out.Body, nil
}

// notExist maps S3 missing-key errors onto objectstore.ErrNotExist
func notExist(err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return errors.Join(objectstore.ErrNotExist, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return errors.Join(objectstore.ErrNotExist, err)
	}
	return err
}

// toItem renders objects with the S3 API field names
func toItem(obj objectstore.Object) base.Item {
	item := base.Item{
		"Key":          obj.Key,
		"Size":         obj.Size,
		"LastModified": obj.LastModified,
	}
	if obj.ContentType != "" {
		item["ContentType"] = obj.ContentType
	}
	if obj.ETag != "" {
		item["ETag"] = obj.ETag
	}
	return item
}
