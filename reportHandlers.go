package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/txsummary/config"
	"github.com/mmdatafocus/txsummary/middlewares"
	"github.com/mmdatafocus/txsummary/models/reports"
	"github.com/mmdatafocus/txsummary/utils"
	"github.com/mmdatafocus/txsummary/workflow"
)

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// api holds what the handlers need. It is filled in before the readiness
// gate opens, so handlers never see it half built.
type api struct {
	reports *reports.Service
	logger  *logrus.Logger
	// set by newRouter when rate limiting is backed by redis
	redisLimiter *middlewares.RedisRateLimiter
}

type reportFunc func(*reports.Service) func(c *gin.Context, q reports.ReportQuery) ([]reports.ReportRow, error)

func liveReport(s *reports.Service) func(*gin.Context, reports.ReportQuery) ([]reports.ReportRow, error) {
	return func(c *gin.Context, q reports.ReportQuery) ([]reports.ReportRow, error) {
		return s.LiveReport(c.Request.Context(), q)
	}
}

func summaryReport(s *reports.Service) func(*gin.Context, reports.ReportQuery) ([]reports.ReportRow, error) {
	return func(c *gin.Context, q reports.ReportQuery) ([]reports.ReportRow, error) {
		return s.SummaryReport(c.Request.Context(), q)
	}
}

func (a *api) reportHandler(name string, run reportFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := reports.ParseReportQuery(c.Query("type"), c.Query("mode"), c.Query("merchantId"), c.Query("format"))
		if err != nil {
			writeError(c, err)
			return
		}

		rows, err := run(a.reports)(c, q)
		if err != nil {
			writeError(c, err)
			return
		}

		if q.Format == reports.FormatXLSX {
			filename := fmt.Sprintf("%s-%s-%s.xlsx", name, q.Mode, q.Metric)
			c.Header("Content-Type", reports.ExcelContentType)
			c.Header("Content-Disposition", "attachment; filename="+filename)
			c.Status(http.StatusOK)
			if err := reports.WriteExcel(c.Writer, string(q.Metric), rows); err != nil {
				_ = c.Error(err)
			}
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// writeError maps typed errors to the structured error response.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var iae *utils.InvalidArgumentError
	switch {
	case errors.As(err, &iae):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  "invalid_argument",
			"param": iae.Param,
		})
	case utils.IsStoreUnavailable(err):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": "store unavailable",
			"code":  "store_unavailable",
		})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
			"code":  "internal",
		})
	}
}

// summaryRunsPubSubHandler drops cached summary responses after a
// materialization run. Malformed messages are acked so they are not redelivered.
func (a *api) summaryRunsPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(a.logger, "server.go", "summaryRunsPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(a.logger, "server.go", "summaryRunsPubSubHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		run, err := workflow.DecodeSummaryRunMessage(msg.Message.Data)
		if err != nil {
			config.LogError(a.logger, "server.go", "summaryRunsPubSubHandler", "Decode summary run message", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}

		if err := a.reports.InvalidateCache(c.Request.Context()); err != nil {
			// let Pub/Sub redeliver
			config.LogError(a.logger, "server.go", "summaryRunsPubSubHandler", "InvalidateCache", run.RunId, err)
			c.Status(http.StatusInternalServerError)
			return
		}

		a.logger.WithFields(utils.LogFieldsFromContext(c.Request.Context())).WithFields(logrus.Fields{
			"runId":          run.RunId,
			"messageId":      msg.Message.ID,
			"bucketsWritten": run.BucketsWritten,
		}).Info("summary cache invalidated")
		c.Status(http.StatusNoContent)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "code": "not_found"})
}
