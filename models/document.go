package models

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/disintegration/imaging"
	"gorm.io/gorm"
)

// Document is a credential attachment (license, GMP certificate, photo ID)
// submitted with a party registration and reviewed during approval.
type Document struct {
	ID           int       `gorm:"primary_key" json:"id"`
	PartyId      int       `gorm:"not null;index" json:"party_id"`
	DocumentType string    `gorm:"size:50" json:"document_type"`
	DocumentUrl  string    `gorm:"size:500;not null" json:"document_url"`
	ThumbnailUrl string    `gorm:"size:500" json:"thumbnail_url"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewDocument struct {
	DocumentType string `json:"document_type"`
	DocumentUrl  string `json:"document_url" binding:"required"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

type UploadResponse struct {
	DocumentUrl  string `json:"document_url"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

func mapNewDocuments(inputs []*NewDocument) ([]*Document, error) {
	var documents []*Document
	for _, input := range inputs {
		document, err := input.MapInput()
		if err != nil {
			return nil, err
		}
		documents = append(documents, document)
	}
	return documents, nil
}

// map NewDocument to Document, for db.Create(&document)
func (input NewDocument) MapInput() (*Document, error) {
	if err := utils.CheckDocumentExistInGCS(input.DocumentUrl); err != nil {
		return nil, err
	}
	if input.ThumbnailUrl != "" {
		if err := utils.CheckDocumentExistInGCS(input.ThumbnailUrl); err != nil {
			return nil, err
		}
	}
	return &Document{
		DocumentType: input.DocumentType,
		DocumentUrl:  input.DocumentUrl,
		ThumbnailUrl: input.ThumbnailUrl,
	}, nil
}

// UploadDocument stores a credential file in GCS. Image uploads additionally
// get a resized thumbnail for the admin review screen.
func UploadDocument(ctx context.Context, filename string, file io.Reader) (*UploadResponse, error) {
	if file == nil {
		return nil, errors.New("nil file provided")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, utils.NewValidationError("file has no extension")
	}

	storagePath := "credentials/"
	uniqueFilename := utils.GenerateUniqueFilename() + ext
	objectName := filepath.Join(storagePath, uniqueFilename)

	// UploadFileToGCS sniffs the content and enforces the document/image
	// MIME allow-list.
	if err := utils.UploadFileToGCS(ctx, objectName, bytes.NewReader(data)); err != nil {
		return nil, err
	}

	response := &UploadResponse{DocumentUrl: getCloudURL(objectName)}

	if isImageExt(ext) {
		thumbnailData, err := generateThumbnail(data)
		if err != nil {
			return nil, err
		}
		thumbnailObjectName := filepath.Join(storagePath, "thumbnails", uniqueFilename)
		if err := utils.UploadBytesToGCS(ctx, thumbnailObjectName, thumbnailData, "image/jpeg"); err != nil {
			return nil, err
		}
		response.ThumbnailUrl = getCloudURL(thumbnailObjectName)
	}

	return response, nil
}

// RemoveDocument deletes an uploaded credential file that no party record
// references, along with its thumbnail if present.
func RemoveDocument(ctx context.Context, fullUrl string) (*UploadResponse, error) {
	var count int64
	db := config.GetDB()

	if err := db.Model(&Document{}).WithContext(ctx).Where("document_url = ?", fullUrl).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewConflictError([]string{fullUrl}, "cannot delete a document attached to a party")
	}

	objectName := extractObjectName(fullUrl)
	if objectName == "" {
		return nil, utils.NewValidationError("invalid document url")
	}
	if ok, err := utils.ObjectExistsInGCS(ctx, objectName); !ok || err != nil {
		return nil, utils.NewNotFoundError("object does not exist")
	}

	if err := utils.DeleteObjectFromGCS(ctx, objectName); err != nil {
		return nil, err
	}

	response := &UploadResponse{DocumentUrl: getCloudURL(objectName)}

	parts := strings.SplitN(objectName, "/", 2)
	if len(parts) == 2 {
		thumbnailObjectName := filepath.Join(parts[0], "thumbnails", parts[1])
		if ok, _ := utils.ObjectExistsInGCS(ctx, thumbnailObjectName); ok {
			if err := utils.DeleteObjectFromGCS(ctx, thumbnailObjectName); err != nil {
				return nil, err
			}
			response.ThumbnailUrl = getCloudURL(thumbnailObjectName)
		}
	}

	return response, nil
}

func getCloudURL(objectName string) string {
	return "https://" + os.Getenv("GCS_URL") + "/" + os.Getenv("GCS_BUCKET") + "/" + objectName
}

func extractObjectName(cloudUrl string) string {
	baseUrl := "https://" + os.Getenv("GCS_URL") + "/" + os.Getenv("GCS_BUCKET") + "/"
	objectName, found := strings.CutPrefix(cloudUrl, baseUrl)
	if !found {
		return ""
	}
	return objectName
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

func generateThumbnail(originalData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(originalData))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var thumbnailBuffer bytes.Buffer
	if err := imaging.Encode(&thumbnailBuffer, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return thumbnailBuffer.Bytes(), nil
}

func (doc *Document) Delete(tx *gorm.DB, ctx context.Context) error {
	if err := tx.WithContext(ctx).Delete(&doc).Error; err != nil {
		return err
	}
	if objectName := extractObjectName(doc.DocumentUrl); objectName != "" {
		if err := utils.DeleteObjectFromGCS(ctx, objectName); err != nil {
			return err
		}
	}
	if objectName := extractObjectName(doc.ThumbnailUrl); objectName != "" {
		if err := utils.DeleteObjectFromGCS(ctx, objectName); err != nil {
			return err
		}
	}
	return nil
}
