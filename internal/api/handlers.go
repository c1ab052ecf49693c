package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/quakesentinel/internal/models"
	"github.com/rewired-gh/quakesentinel/internal/response"
	"github.com/rewired-gh/quakesentinel/internal/settings"
	"github.com/rewired-gh/quakesentinel/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// queryInt reads an integer query parameter within [min, max].
func queryInt(c *gin.Context, name string, def, lo, hi int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s must be an integer between %d and %d", models.ErrInvalidInput, name, lo, hi)
	}
	return n, nil
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id must be a positive integer", models.ErrInvalidInput)
	}
	return id, nil
}

func (h *handler) ingestEvent(c *gin.Context) {
	var sample models.Sample
	if err := c.ShouldBindJSON(&sample); err != nil {
		response.BadRequest(c, "invalid sample: "+err.Error())
		return
	}

	event, err := h.Ingester.Ingest(c.Request.Context(), sample)
	if event == nil && err != nil {
		response.Fail(c, err)
		return
	}
	if err != nil {
		// stored but not queued
		_ = c.Error(err)
	}
	response.Created(c, event)
}

func (h *handler) listEvents(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultPageSize, 1, maxPageSize)
	if err != nil {
		response.Fail(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0, 0, math.MaxInt32)
	if err != nil {
		response.Fail(c, err)
		return
	}

	filter := storage.EventFilter{DeviceID: c.Query("device_id")}
	if raw := c.Query("event_type"); raw != "" {
		t, err := models.ParseEventType(raw)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		filter.Type = &t
	}

	ctx := c.Request.Context()
	total, err := h.Store.CountEvents(ctx, filter)
	if err != nil {
		response.Fail(c, err)
		return
	}
	filter.Limit, filter.Offset = limit, offset
	events, err := h.Store.QueryEvents(ctx, filter)
	if err != nil {
		response.Fail(c, err)
		return
	}
	if events == nil {
		events = []models.SeismicEvent{}
	}

	response.Success(c, gin.H{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *handler) getEvent(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	ctx := c.Request.Context()

	event, err := h.Store.GetEvent(ctx, id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	analysis, err := h.Store.CurrentAnalysis(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		response.Fail(c, err)
		return
	}
	notifications, err := h.Store.QueryNotifications(ctx, storage.NotificationFilter{EventID: id})
	if err != nil {
		response.Fail(c, err)
		return
	}
	if notifications == nil {
		notifications = []models.NotificationRecord{}
	}

	response.Success(c, gin.H{
		"event":         event,
		"analysis":      analysis,
		"notifications": notifications,
	})
}

func (h *handler) getAftershocks(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	ctx := c.Request.Context()

	if _, err := h.Store.GetEvent(ctx, id); err != nil {
		response.Fail(c, err)
		return
	}
	analyses, err := h.Store.ListAnalyses(ctx, id)
	if err != nil {
		response.Fail(c, err)
		return
	}

	var current *models.AftershockAnalysis
	if len(analyses) > 0 {
		current = &analyses[0]
	}
	response.Success(c, gin.H{
		"event_id": id,
		"current":  current,
		"history":  analyses,
	})
}

func (h *handler) reanalyze(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	ctx := c.Request.Context()

	event, err := h.Store.GetEvent(ctx, id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	analysis, err := h.Estimator.Estimate(ctx, event, h.Settings.Snapshot())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, analysis)
}

func (h *handler) generalStats(c *gin.Context) {
	days, err := queryInt(c, "days", 30, 1, 366)
	if err != nil {
		response.Fail(c, err)
		return
	}
	result, err := h.Stats.GeneralStats(c.Request.Context(), days)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

func (h *handler) exportGeneralStats(c *gin.Context) {
	days, err := queryInt(c, "days", 30, 1, 366)
	if err != nil {
		response.Fail(c, err)
		return
	}
	result, err := h.Stats.GeneralStats(c.Request.Context(), days)
	if err != nil {
		response.Fail(c, err)
		return
	}
	data, err := BuildStatsXLSX(result)
	if err != nil {
		response.Fail(c, fmt.Errorf("rendering export: %w", err))
		return
	}

	filename := fmt.Sprintf("seismic-stats-%dd.xlsx", days)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (h *handler) activityTrend(c *gin.Context) {
	hours, err := queryInt(c, "hours", 24, 1, 24*31)
	if err != nil {
		response.Fail(c, err)
		return
	}
	result, err := h.Stats.ActivityTrend(c.Request.Context(), hours)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

func (h *handler) trendSummary(c *gin.Context) {
	days, err := queryInt(c, "days", 30, 1, 366)
	if err != nil {
		response.Fail(c, err)
		return
	}
	result, err := h.Stats.TrendSummary(c.Request.Context(), days)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

func (h *handler) simplePrediction(c *gin.Context) {
	result, err := h.Stats.SimplePrediction(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

func (h *handler) notificationHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultPageSize, 1, maxPageSize)
	if err != nil {
		response.Fail(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0, 0, math.MaxInt32)
	if err != nil {
		response.Fail(c, err)
		return
	}

	filter := storage.NotificationFilter{Limit: limit, Offset: offset}
	if raw := c.Query("status"); raw != "" {
		filter.Status = models.NotificationStatus(raw)
		if !filter.Status.Valid() {
			response.BadRequest(c, "status must be 'pending', 'sent' or 'failed'")
			return
		}
	}
	if raw := c.Query("channel"); raw != "" {
		filter.Channel = models.Channel(raw)
		if !filter.Channel.Valid() {
			response.BadRequest(c, "channel must be 'whatsapp' or 'telegram'")
			return
		}
	}

	records, err := h.Store.QueryNotifications(c.Request.Context(), filter)
	if err != nil {
		response.Fail(c, err)
		return
	}
	if records == nil {
		records = []models.NotificationRecord{}
	}
	response.Success(c, gin.H{
		"notifications": records,
		"limit":         limit,
		"offset":        offset,
	})
}

// notificationTotal is the count per channel and status over the window.
type notificationTotal struct {
	Channel models.Channel            `json:"channel"`
	Status  models.NotificationStatus `json:"status"`
	Count   int                       `json:"count"`
}

func (h *handler) notificationStats(c *gin.Context) {
	days, err := queryInt(c, "days", 7, 1, 366)
	if err != nil {
		response.Fail(c, err)
		return
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	daily, err := h.Store.NotificationStats(c.Request.Context(), since)
	if err != nil {
		response.Fail(c, err)
		return
	}
	if daily == nil {
		daily = []storage.NotificationStat{}
	}

	totals := []notificationTotal{}
	index := map[[2]string]int{}
	for _, s := range daily {
		key := [2]string{string(s.Channel), string(s.Status)}
		i, ok := index[key]
		if !ok {
			i = len(totals)
			index[key] = i
			totals = append(totals, notificationTotal{Channel: s.Channel, Status: s.Status})
		}
		totals[i].Count += s.Count
	}
	slices.SortFunc(totals, func(a, b notificationTotal) int {
		if a.Channel != b.Channel {
			return strings.Compare(string(a.Channel), string(b.Channel))
		}
		return strings.Compare(string(a.Status), string(b.Status))
	})

	response.Success(c, gin.H{
		"period_days": days,
		"totals":      totals,
		"daily":       daily,
	})
}

type testNotificationRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Message   string `json:"message"`
}

func (h *handler) testNotification(c *gin.Context) {
	if h.TestSender == nil {
		response.Error(c, http.StatusServiceUnavailable, "no transport configured for test messages")
		return
	}
	var req testNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "recipient is required")
		return
	}
	if req.Message == "" {
		req.Message = "🧪 quakesentinel test message. Alerts will reach this recipient."
	}

	messageID, err := h.TestSender.Send(c.Request.Context(), req.Recipient, req.Message)
	if err != nil {
		response.Error(c, http.StatusBadGateway, fmt.Errorf("%w: %w", models.ErrDeliveryFailed, err).Error())
		return
	}
	response.Success(c, gin.H{
		"channel":    h.TestSender.Channel(),
		"recipient":  req.Recipient,
		"message_id": messageID,
	})
}

func (h *handler) getConfig(c *gin.Context) {
	s := h.Settings.Snapshot()
	response.Success(c, gin.H{
		models.SettingEarthquakeThreshold:   s.EarthquakeThreshold,
		models.SettingVibrationThreshold:    s.VibrationThreshold,
		models.SettingAftershockWindowHours: s.AftershockWindowHours(),
		models.SettingCooldownMinutes:       s.CooldownMinutes(),
		models.SettingEmergencyContacts:     s.Contacts(),
	})
}

type updateSettingRequest struct {
	Value any `json:"value"`
}

func (h *handler) updateSetting(c *gin.Context) {
	key := c.Param("key")
	if key == models.SettingEmergencyContacts || !slices.Contains(settings.Keys(), key) {
		response.BadRequest(c, "unknown setting "+strconv.Quote(key))
		return
	}

	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid body: "+err.Error())
		return
	}
	var value string
	switch v := req.Value.(type) {
	case string:
		value = v
	case float64:
		value = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		response.BadRequest(c, "value must be a number or a string")
		return
	}

	if err := h.Settings.Update(c.Request.Context(), key, value); err != nil {
		response.Fail(c, err)
		return
	}
	h.getConfig(c)
}

type updateContactsRequest struct {
	Contacts []models.Contact `json:"contacts"`
}

func (h *handler) updateContacts(c *gin.Context) {
	var req updateContactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid body: "+err.Error())
		return
	}
	if err := h.Settings.UpdateContacts(c.Request.Context(), req.Contacts); err != nil {
		response.Fail(c, err)
		return
	}
	h.getConfig(c)
}
