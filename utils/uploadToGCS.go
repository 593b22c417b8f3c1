package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// GetGCSClient exposes the shared Google Cloud Storage client.
func GetGCSClient(ctx context.Context) (*storage.Client, error) {
	return getGoogleClient(ctx)
}

// UploadFileToGCS stores a registration credential (license, certificate) or
// drug image. Only document/image MIME types are accepted.
func UploadFileToGCS(ctx context.Context, objectName string, fileContent io.Reader) error {
	fileData, err := io.ReadAll(fileContent)
	if err != nil {
		return fmt.Errorf("failed to read file content: %v", err)
	}

	mimeType := http.DetectContentType(fileData)

	// Manually set MIME type for .docx and .xlsx files
	if mimeType == "application/zip" {
		if strings.HasSuffix(objectName, ".docx") {
			mimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		} else if strings.HasSuffix(objectName, ".xlsx") {
			mimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
	}

	allowedMimeTypes := map[string]bool{
		"application/pdf":          true,
		"application/msword":       true,
		"application/vnd.ms-excel": true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
		"image/jpeg": true,
		"image/png":  true,
		"image/gif":  true,
		"image/webp": true,
	}

	if !allowedMimeTypes[mimeType] {
		return fmt.Errorf("unsupported file type: %s", mimeType)
	}

	return UploadBytesToGCS(ctx, objectName, fileData, mimeType)
}

func UploadBytesToGCS(ctx context.Context, objectName string, data []byte, contentType string) error {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	bucketName := os.Getenv("GCS_BUCKET")
	if bucketName == "" {
		return errors.New("GCS_BUCKET is required")
	}

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	wc.Metadata = map[string]string{
		"x-goog-acl": "public-read",
	}

	if _, err := wc.Write(data); err != nil {
		return fmt.Errorf("failed to upload bytes to Google Cloud Storage: %v", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %v", err)
	}
	return nil
}

// DeleteObjectFromGCS deletes an object; a missing object is not an error.
func DeleteObjectFromGCS(ctx context.Context, objectName string) error {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	bucketName := os.Getenv("GCS_BUCKET")

	err = client.Bucket(bucketName).Object(objectName).Delete(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return err
	}
	return nil
}

// ObjectExistsInGCS checks existence without downloading content.
func ObjectExistsInGCS(ctx context.Context, objectName string) (bool, error) {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return false, err
	}
	defer client.Close()

	bucketName := os.Getenv("GCS_BUCKET")

	_, err = client.Bucket(bucketName).Object(objectName).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CheckDocumentExistInGCS verifies an uploaded credential URL points at a
// real object, falling back to a HEAD probe for external URLs.
func CheckDocumentExistInGCS(documentURL string) error {
	if objectKey := ExtractObjectKeyFromURL(documentURL); objectKey != "" {
		ok, err := ObjectExistsInGCS(context.Background(), objectKey)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		return errors.New("document does not exist")
	}

	resp, err := http.Head(documentURL)
	if err != nil {
		return errors.New("invalid document url")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	return errors.New("document does not exist")
}
