package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"crimson-pen/models"
	"crimson-pen/services"
)

// ListRecordsHandler returns the published history, newest first.
// Query: page (1-based), page_size (<=100).
func ListRecordsHandler(svc *services.RecordService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in services.ListRecordsInput
		in.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
		in.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

		items, err := svc.List(c.Request.Context(), in)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

// GetRecordHandler returns the record of one day (YYYY-MM-DD).
func GetRecordHandler(svc *services.RecordService) gin.HandlerFunc {
	return func(c *gin.Context) {
		date := c.Param("date")
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		rec, err := svc.GetByDate(c.Request.Context(), date)
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// ListAttemptsHandler returns the generation attempts of one run.
func ListAttemptsHandler(svc *services.AttemptService) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := svc.ListByRun(c.Request.Context(), c.Param("run_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, items)
	}
}
