package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notification"
)

func createAppointmentHandler(svc AppointmentService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		start, err := parseTimestamp(req.StartTime, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.CreateInput{
			StartTime:       start,
			DurationMinutes: req.DurationMinutes,
			PatientID:       req.PatientID,
			PractitionerID:  normalizePractitionerID(req.PractitionerID),
			Type:            appointment.AppointmentType(req.AppointmentType),
		})
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := appointment.ListFilter{ParticipantID: r.URL.Query().Get("user_id")}

		if raw := r.URL.Query().Get("date"); raw != "" {
			day, err := parseDate(raw, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
				return
			}
			f.Day = &day
		}

		items, err := svc.ListAppointments(r.Context(), f)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(items))
		for i := range items {
			resp = append(resp, toAppointmentResponse(&items[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := int64Param(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc AppointmentService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := int64Param(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		var req UpdateAppointmentRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		in := appointment.UpdateInput{
			DurationMinutes: req.DurationMinutes,
			PatientID:       req.PatientID,
			// A sentinel or null keeps the current practitioner.
			PractitionerID: normalizePractitionerID(req.PractitionerID),
		}
		if req.StartTime != nil {
			start, err := parseTimestamp(*req.StartTime, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
				return
			}
			in.StartTime = &start
		}
		if req.AppointmentType != nil {
			t := appointment.AppointmentType(*req.AppointmentType)
			in.Type = &t
		}
		if req.Status != nil {
			st := appointment.AppointmentStatus(*req.Status)
			in.Status = &st
		}

		appt, err := svc.UpdateAppointment(r.Context(), id, in)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := int64Param(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func deleteAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := int64Param(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		snapshot, err := svc.DeleteAppointment(r.Context(), id)
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(snapshot))
	}
}

func checkAvailabilityHandler(svc AppointmentService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckAvailabilityRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		start, err := parseTimestamp(req.StartTime, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
			return
		}

		ok, err := svc.CheckAvailability(r.Context(), appointment.AvailabilityQuery{
			StartTime:       start,
			DurationMinutes: req.DurationMinutes,
			PatientID:       req.PatientID,
			PractitionerID:  normalizePractitionerID(req.PractitionerID),
		})
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, CheckAvailabilityResponse{Available: ok})
	}
}

func availableSlotsHandler(svc AppointmentService, loc *time.Location, defaults config.AvailabilityDefaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params := SlotsParams{
			Date:      q.Get("date"),
			PatientID: q.Get("patient_id"),
		}

		ints := []struct {
			name string
			dst  *int
			def  int
		}{
			{"duration_minutes", &params.DurationMinutes, 0},
			{"start_hour", &params.StartHour, defaults.StartHour},
			{"end_hour", &params.EndHour, defaults.EndHour},
			{"step_minutes", &params.StepMinutes, defaults.StepMinutes},
		}
		for _, p := range ints {
			v, err := intQuery(r, p.name, p.def)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
				return
			}
			*p.dst = v
		}
		if err := validateStruct(params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		day, err := parseDate(params.Date, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		pid := q.Get("practitioner_id")
		slots, err := svc.Slots(r.Context(), appointment.SlotQuery{
			Date:            day,
			StartHour:       params.StartHour,
			EndHour:         params.EndHour,
			StepMinutes:     params.StepMinutes,
			DurationMinutes: params.DurationMinutes,
			PatientID:       params.PatientID,
			PractitionerID:  normalizePractitionerID(&pid),
		})
		if err != nil {
			handleAppointmentError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{AvailableSlots: slots})
	}
}

// recipientScope is the only recipient whose notifications the caller may
// touch, or "" for admins and when auth is disabled.
func recipientScope(ctx context.Context) string {
	if auth.Role(ctx) == string(notification.RoleAdmin) {
		return ""
	}
	return auth.UserID(ctx)
}

func listNotificationsHandler(svc NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := recipientScope(r.Context())
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			userID = auth.UserID(r.Context())
		}
		if scope != "" && userID != scope {
			writeError(w, http.StatusForbidden, "forbidden", "only admins can read other users' notifications")
			return
		}
		if userID == "" {
			writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
			return
		}

		items, err := svc.ListForUser(r.Context(), userID)
		if err != nil {
			handleNotificationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func appointmentNotificationsHandler(svc NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := int64Param(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		items, err := svc.ListForAppointment(r.Context(), id)
		if err != nil {
			handleNotificationError(w, r, err)
			return
		}

		if scope := recipientScope(r.Context()); scope != "" {
			own := items[:0]
			for _, n := range items {
				if n.RecipientUserID == scope {
					own = append(own, n)
				}
			}
			items = own
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func markNotificationReadHandler(svc NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := int64Param(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_notification_id", err.Error())
			return
		}

		n, err := svc.MarkRead(r.Context(), id, recipientScope(r.Context()))
		if err != nil {
			handleNotificationError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func handleAppointmentError(w http.ResponseWriter, r *http.Request, err error) {
	switch appointment.KindOf(err) {
	case appointment.KindValidation:
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case appointment.KindConflict:
		writeError(w, http.StatusConflict, "scheduling_conflict", err.Error())
	case appointment.KindNotFound:
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	default:
		internalError(w, r, err)
	}
}

func handleNotificationError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, notification.ErrNotificationNotFound) {
		writeError(w, http.StatusNotFound, "notification_not_found", err.Error())
		return
	}
	internalError(w, r, err)
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
