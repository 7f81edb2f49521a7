// Package s3store implements remote.ObjectStore over an S3-compatible
// bucket (AWS or MinIO). Uploads above the part size run as multipart
// transfers so an interrupted upload can continue from the last
// finished part.
package s3store

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/clipsync/clipsync/internal/common"
	"github.com/clipsync/clipsync/internal/logging"
	"github.com/clipsync/clipsync/internal/remote"
)

const defaultPartSize = 8 << 20

type Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

type Store struct {
	client   *s3.Client
	bucket   string
	partSize int64
	log      logging.Logger
}

func New(ctx context.Context, cfg Config, log logging.Logger) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:   client,
		bucket:   cfg.Bucket,
		partSize: defaultPartSize,
		log:      log,
	}, nil
}

// Upload sends the file at localPath to the given key and returns the
// hex MD5 of its content. resumeToken is the token from a previous
// interrupted attempt, or "". Progress calls carry the current token so
// the caller can persist it.
func (s *Store) Upload(ctx context.Context, key, localPath, resumeToken string, progress remote.TransferProgress) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := st.Size()

	if size < s.partSize {
		if err := s.putWhole(ctx, key, f, size, progress); err != nil {
			return "", err
		}
	} else {
		if err := s.putMultipart(ctx, key, f, size, resumeToken, progress); err != nil {
			return "", err
		}
	}

	return fileMD5(f)
}

func (s *Store) putWhole(ctx context.Context, key string, f *os.File, size int64, progress remote.TransferProgress) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	if progress != nil {
		progress(size, size, "")
	}
	return nil
}

func (s *Store) putMultipart(ctx context.Context, key string, f *os.File, size int64, token string, progress remote.TransferProgress) error {
	uploadID, partSize, err := parseToken(token)
	if err != nil {
		s.log.Warn(ctx, "discarding unreadable resume token", "key", key, "error", err)
		uploadID = ""
	}
	if partSize == 0 {
		partSize = s.partSize
	}

	if uploadID == "" {
		out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to start multipart upload: %w", err)
		}
		uploadID = aws.ToString(out.UploadId)
		partSize = s.partSize
	}

	token = makeToken(uploadID, partSize)

	parts, doneBytes, err := s.listDoneParts(ctx, key, uploadID)
	if err != nil {
		// A stale upload id means we start over.
		s.log.Warn(ctx, "resume lookup failed, restarting upload", "key", key, "error", err)
		out, cerr := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if cerr != nil {
			return fmt.Errorf("failed to restart multipart upload: %w", cerr)
		}
		uploadID = aws.ToString(out.UploadId)
		token = makeToken(uploadID, partSize)
		parts, doneBytes = nil, 0
	}

	if progress != nil {
		progress(doneBytes, size, token)
	}

	buf := make([]byte, partSize)
	for partNum := int32(len(parts)) + 1; doneBytes < size; partNum++ {
		n, err := io.ReadFull(io.NewSectionReader(f, doneBytes, partSize), buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("failed to read part %d: %w", partNum, err)
		}

		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNum),
			Body:       bytes.NewReader(buf[:n]),
		})
		if err != nil {
			return fmt.Errorf("failed to upload part %d: %w", partNum, err)
		}

		parts = append(parts, types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(partNum),
		})
		doneBytes += int64(n)

		if progress != nil {
			progress(doneBytes, size, token)
		}
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

func (s *Store) listDoneParts(ctx context.Context, key, uploadID string) ([]types.CompletedPart, int64, error) {
	var parts []types.CompletedPart
	var done int64
	var marker *string
	for {
		out, err := s.client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(s.bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, 0, err
		}
		for _, p := range out.Parts {
			parts = append(parts, types.CompletedPart{
				ETag:       p.ETag,
				PartNumber: p.PartNumber,
			})
			done += aws.ToInt64(p.Size)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		marker = out.NextPartNumberMarker
	}
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})
	return parts, done, nil
}

// Download fetches the object into localPath starting at offset. With a
// non-zero offset the file is appended to, so a partial download can be
// continued in place.
func (s *Store) Download(ctx context.Context, key, localPath string, offset int64, progress remote.TransferProgress) error {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if offset > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		var nk *types.NoSuchKey
		if errors.As(err, &nk) {
			return common.ErrObjectNotFound
		}
		return fmt.Errorf("failed to fetch object: %w", err)
	}
	defer out.Body.Close()

	total := offset + aws.ToInt64(out.ContentLength)

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(localPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open target file: %w", err)
	}
	defer f.Close()

	done := offset
	buf := make([]byte, 256<<10)
	for {
		n, rerr := out.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write target file: %w", werr)
			}
			done += int64(n)
			if progress != nil {
				progress(done, total, "")
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("download interrupted: %w", rerr)
		}
	}
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func makeToken(uploadID string, partSize int64) string {
	return uploadID + "|" + strconv.FormatInt(partSize, 10)
}

func parseToken(token string) (uploadID string, partSize int64, err error) {
	if token == "" {
		return "", 0, nil
	}
	i := strings.LastIndexByte(token, '|')
	if i < 0 {
		return "", 0, fmt.Errorf("malformed resume token")
	}
	partSize, err = strconv.ParseInt(token[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed resume token: %w", err)
	}
	return token[:i], partSize, nil
}

func fileMD5(f *os.File) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
