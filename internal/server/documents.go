package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/docstore"
)

var (
	errForeignDocument = apperr.New(apperr.ErrForbidden, "forbidden", "path belongs to another user or a module you cannot access")
	errBadIfMatch      = apperr.New(apperr.ErrInvalidInput, "invalid_input", "If-Match must be a document version")
)

// ownedPath parses the *path parameter and checks that it lies in the
// caller's namespace of an allowed module.
func ownedPath(c *gin.Context) (docstore.Path, bool) {
	path, err := docstore.Parse(c.Param("path"))
	if err != nil {
		apperr.Respond(c, err)
		return docstore.Path{}, false
	}
	user := auth.CurrentUser(c)
	if user == nil || user.UID != path.UID || !user.CanAccess(path.Module) {
		apperr.Respond(c, errForeignDocument)
		return docstore.Path{}, false
	}
	return path, true
}

// expectedVersion reads If-Match. Absent means any version; 0 means the
// document must not exist yet.
func expectedVersion(c *gin.Context) (int64, bool) {
	raw := strings.Trim(c.GetHeader("If-Match"), `"`)
	if raw == "" || raw == "*" {
		return docstore.AnyVersion, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		apperr.Respond(c, errBadIfMatch)
		return 0, false
	}
	return v, true
}

// checkBody runs the module's rules over the body about to be stored.
func checkBody(checkers map[string]docstore.Checker, path docstore.Path, body any) error {
	check, ok := checkers[path.Module]
	if !ok {
		return docstore.InvalidDocument("module %q does not accept raw writes", path.Module)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return docstore.InvalidDocument("malformed document: %v", err)
	}
	return check(path, raw)
}

func writeDocument(c *gin.Context, status int, doc *docstore.Document) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(doc.Version, 10)))
	c.JSON(status, doc)
}

// GetDocumentHandler returns one document, or every item of a collection.
func GetDocumentHandler(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, ok := ownedPath(c)
		if !ok {
			return
		}
		if path.IsCollection() {
			docs, err := store.List(c.Request.Context(), path)
			if err != nil {
				apperr.Respond(c, err)
				return
			}
			if docs == nil {
				docs = []*docstore.Document{}
			}
			c.JSON(http.StatusOK, gin.H{"path": path.String(), "documents": docs})
			return
		}
		doc, err := store.Get(c.Request.Context(), path)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		writeDocument(c, http.StatusOK, doc)
	}
}

// PutDocumentHandler replaces a document with the JSON body once the
// module's rules accept it.
func PutDocumentHandler(store docstore.Store, checkers map[string]docstore.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, ok := ownedPath(c)
		if !ok {
			return
		}
		if path.IsCollection() {
			apperr.Respond(c, docstore.ErrInvalidPath)
			return
		}
		expected, ok := expectedVersion(c)
		if !ok {
			return
		}
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		if err := checkBody(checkers, path, body); err != nil {
			apperr.Respond(c, err)
			return
		}
		doc, err := store.Set(c.Request.Context(), path, body, expected)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		writeDocument(c, http.StatusOK, doc)
	}
}

// PatchDocumentHandler overwrites the top-level keys present in the body.
// The merged result is checked against the version it was built from, so
// a concurrent write turns into a conflict instead of an unchecked body.
func PatchDocumentHandler(store docstore.Store, checkers map[string]docstore.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, ok := ownedPath(c)
		if !ok {
			return
		}
		if path.IsCollection() {
			apperr.Respond(c, docstore.ErrInvalidPath)
			return
		}
		expected, ok := expectedVersion(c)
		if !ok {
			return
		}
		var fields map[string]any
		if err := c.ShouldBindJSON(&fields); err != nil {
			apperr.BadRequest(c, err)
			return
		}

		var (
			current json.RawMessage
			version int64
		)
		doc, err := store.Get(c.Request.Context(), path)
		switch {
		case err == nil:
			current, version = doc.Data, doc.Version
		case !errors.Is(err, docstore.ErrNotFound):
			apperr.Respond(c, err)
			return
		}
		if expected == docstore.AnyVersion {
			expected = version
		}

		merged, err := docstore.MergeFields(current, fields)
		if err != nil {
			apperr.Respond(c, docstore.InvalidDocument("%v", err))
			return
		}
		if err := checkBody(checkers, path, merged); err != nil {
			apperr.Respond(c, err)
			return
		}
		doc, err = store.Merge(c.Request.Context(), path, fields, expected)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		writeDocument(c, http.StatusOK, doc)
	}
}

// DeleteDocumentHandler removes a document.
func DeleteDocumentHandler(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, ok := ownedPath(c)
		if !ok {
			return
		}
		if path.IsCollection() {
			apperr.Respond(c, docstore.ErrInvalidPath)
			return
		}
		expected, ok := expectedVersion(c)
		if !ok {
			return
		}
		if err := store.Delete(c.Request.Context(), path, expected); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
