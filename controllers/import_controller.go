package controllers

import (
	"errors"
	"mime/multipart"
	"net/http"

	"lab_key_tracker/app"
	"lab_key_tracker/importer"

	"github.com/gin-gonic/gin"
)

const maxUpload = 8 << 20

type ImportController struct{ *Srv }

func NewImportController(s *Srv) *ImportController { return &ImportController{Srv: s} }

func upload(c *gin.Context) (multipart.File, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return nil, false
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	return f, true
}

func (ic *ImportController) respond(c *gin.Context, res *importer.Result, err error) {
	if errors.Is(err, importer.ErrNoHeader) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		// excelize could not read the workbook at all
		c.JSON(http.StatusBadRequest, app.H{"error": "not a readable xlsx file: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/admin/import/keys (multipart "file")
func (ic *ImportController) Keys(c *gin.Context) {
	f, ok := upload(c)
	if !ok {
		return
	}
	defer f.Close()
	res, err := importer.ImportKeys(c.Request.Context(), ic.Repo, f)
	ic.respond(c, res, err)
}

// POST /api/admin/import/teachers (multipart "file")
func (ic *ImportController) Teachers(c *gin.Context) {
	f, ok := upload(c)
	if !ok {
		return
	}
	defer f.Close()
	res, err := importer.ImportTeachers(c.Request.Context(), ic.Repo, f)
	ic.respond(c, res, err)
}
