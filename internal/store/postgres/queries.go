package postgres

const queryGetApplication = `
SELECT id, status, service, first_name, last_name, seniority, motivation,
       availability, discord_id, discord_channel_id, created_at
FROM applications
WHERE id = $1
`

const queryGetAppointment = `
SELECT id, status, first_name, last_name, phone, reason_category, reason,
       discord_id, assigned_discord_id, discord_channel_id, dm_sent,
       scheduled_date, created_at
FROM appointments
WHERE id = $1
`

const queryPendingApplicationIDs = `
SELECT id
FROM applications
WHERE discord_channel_id IS NULL
  AND status = 'pending'
ORDER BY created_at ASC
`

const queryPendingAppointmentIDs = `
SELECT id
FROM appointments
WHERE (discord_channel_id IS NULL OR dm_sent = FALSE)
  AND status = 'pending'
ORDER BY created_at ASC
`

const queryApplicationChannelID = `
SELECT discord_channel_id FROM applications WHERE id = $1
`

const queryAppointmentChannelID = `
SELECT discord_channel_id FROM appointments WHERE id = $1
`

const querySetApplicationChannel = `
UPDATE applications SET discord_channel_id = $1 WHERE id = $2
`

const querySetAppointmentChannel = `
UPDATE appointments SET discord_channel_id = $1 WHERE id = $2
`

const queryAppointmentDMSent = `
SELECT dm_sent FROM appointments WHERE id = $1
`

const querySetAppointmentDMSent = `
UPDATE appointments SET dm_sent = TRUE WHERE id = $1
`

const queryConfigValues = `
SELECT key, value FROM config WHERE key = ANY($1)
`

const queryCountApplicationDocuments = `
SELECT COUNT(*) FROM application_documents WHERE application_id = $1
`

const queryUpcomingAppointments = `
SELECT id, status, first_name, last_name, phone, reason_category, reason,
       discord_id, assigned_discord_id, discord_channel_id, dm_sent,
       scheduled_date, created_at
FROM appointments
WHERE status = 'scheduled'
  AND scheduled_date >= $1
  AND scheduled_date < $2
ORDER BY scheduled_date ASC
`
