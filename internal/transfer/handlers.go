package transfer

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/auth"
)

// MaxImportSize bounds an uploaded backup.
const MaxImportSize = 10 << 20

// ExportHandler serves GET /api/modules/:id/export. With ?archive=true the
// file is also stored and the response carries a download link instead.
func ExportHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, module := auth.UID(c), c.Param("id")

		if c.Query("archive") == "true" {
			f, url, err := svc.Archive(c.Request.Context(), uid, module)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"filename": f.Name, "url": url})
			return
		}

		f, err := svc.Export(c.Request.Context(), uid, module)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, f.Name))
		c.Data(http.StatusOK, "application/json", f.Body)
	}
}

// ImportHandler serves POST /api/modules/:id/import. The backup is either the
// raw request body or a multipart field named "file".
func ImportHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := readBackup(c)
		if err != nil {
			apperr.Respond(c, invalidImport(err.Error()))
			return
		}
		n, err := svc.Import(c.Request.Context(), auth.UID(c), c.Param("id"), raw)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"imported": true, "writes": n})
	}
}

func readBackup(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxImportSize)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing backup file: %w", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open backup file: %w", err)
		}
		defer f.Close()
		return io.ReadAll(f)
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty backup")
	}
	return raw, nil
}

func invalidImport(msg string) error {
	return apperr.New(apperr.ErrInvalidInput, "invalid_import", msg)
}
