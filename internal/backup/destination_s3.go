package backup

import (
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/TheGojiOG/worldkeeper/internal/config"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Destination stores archives in AWS S3 or S3-compatible storage
type S3Destination struct {
	bucket   string
	prefix   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Destination creates a new S3 destination
func NewS3Destination(cfg config.DestinationConfig) (*S3Destination, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 destination requires a bucket")
	}

	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	log.Printf("[S3Dest] Initialized S3 destination: bucket=%s, region=%s", cfg.Bucket, cfg.Region)

	return &S3Destination{
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Path, "/"),
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (sd *S3Destination) key(filename string) string {
	if sd.prefix == "" {
		return filename
	}
	return path.Join(sd.prefix, filename)
}

// Upload streams a backup file to S3 using multipart uploads for large files
func (sd *S3Destination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	key := sd.key(filename)
	log.Printf("[S3Dest] Uploading %s to s3://%s/%s (%d bytes)", filename, sd.bucket, key, sizeBytes)

	_, err := sd.uploader.Upload(&s3manager.UploadInput{
		Bucket:       aws.String(sd.bucket),
		Key:          aws.String(key),
		Body:         reader,
		ContentType:  aws.String("application/gzip"),
		StorageClass: aws.String(s3.StorageClassStandard),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// Delete removes a backup file from S3
func (sd *S3Destination) Delete(filename string) error {
	_, err := sd.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(sd.bucket),
		Key:    aws.String(sd.key(filename)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns all backup files under the destination prefix
func (sd *S3Destination) List() ([]BackupFile, error) {
	prefix := sd.prefix
	if prefix != "" {
		prefix += "/"
	}

	var files []BackupFile
	err := sd.client.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(sd.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			files = append(files, BackupFile{
				Filename:  path.Base(key),
				SizeBytes: aws.Int64Value(obj.Size),
				CreatedAt: aws.TimeValue(obj.LastModified).Unix(),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}
	return files, nil
}

// GetType returns the destination type
func (sd *S3Destination) GetType() string {
	return "s3"
}
