package apperr

import "net/http"

// Authentication and authorization.
var (
	ErrUnauthorized       = New("UNAUTHORIZED", "Unauthorized", http.StatusUnauthorized)
	ErrForbidden          = New("FORBIDDEN", "Access denied", http.StatusForbidden)
	ErrTenantAccessDenied = New("TENANT_ACCESS_DENIED", "Access denied to tenant", http.StatusForbidden)
	ErrNoActiveTenant     = New("NO_ACTIVE_TENANT", "No active organization", http.StatusBadRequest)
)

// Validation and request shape.
var (
	ErrValidation         = New("VALIDATION_ERROR", "Validation failed", http.StatusBadRequest)
	ErrInvalidEmail       = New("INVALID_EMAIL", "Invalid email address", http.StatusBadRequest)
	ErrInvalidInput       = New("INVALID_INPUT", "Invalid input", http.StatusBadRequest)
	ErrInvalidJSON        = New("INVALID_JSON", "Request body must be valid JSON", http.StatusBadRequest)
	ErrDuplicateStepOrder = New("DUPLICATE_STEP_ORDER", "Duplicate step order", http.StatusBadRequest)
	ErrInvalidStepOrder   = New("INVALID_STEP_ORDER", "Invalid step order", http.StatusBadRequest)
	ErrRateLimited        = New("RATE_LIMITED", "Too many requests", http.StatusTooManyRequests)
	ErrPayloadTooLarge    = New("PAYLOAD_TOO_LARGE", "Request body too large", http.StatusRequestEntityTooLarge)
)

// Not found.
var (
	ErrNotFound           = New("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrFlowNotFound       = New("FLOW_NOT_FOUND", "Flow not found", http.StatusNotFound)
	ErrStepNotFound       = New("STEP_NOT_FOUND", "Flow step not found", http.StatusNotFound)
	ErrTenantNotFound     = New("TENANT_NOT_FOUND", "Organization not found", http.StatusNotFound)
	ErrMembershipNotFound = New("MEMBERSHIP_NOT_FOUND", "Membership not found", http.StatusNotFound)
	ErrInvitationNotFound = New("INVITATION_NOT_FOUND", "Invitation not found", http.StatusNotFound)
)

// Screenshots and object storage.
var (
	ErrInvalidDataURL       = New("INVALID_DATA_URL", "Screenshot must be a base64 data URL", http.StatusBadRequest)
	ErrInvalidContentType   = New("INVALID_CONTENT_TYPE", "Unsupported screenshot content type", http.StatusBadRequest)
	ErrEmptyScreenshot      = New("EMPTY_SCREENSHOT_DATA", "Screenshot data is empty", http.StatusBadRequest)
	ErrInvalidBase64        = New("INVALID_BASE64", "Screenshot data is not valid base64", http.StatusBadRequest)
	ErrScreenshotTooLarge   = New("SCREENSHOT_TOO_LARGE", "Screenshot too large", http.StatusRequestEntityTooLarge)
	ErrScreenshotTooSmall   = New("SCREENSHOT_TOO_SMALL", "Screenshot too small", http.StatusBadRequest)
	ErrUploadFailed         = New("UPLOAD_FAILED", "Screenshot upload failed", http.StatusInternalServerError)
	ErrStorageNotConfigured = New("STORAGE_NOT_CONFIGURED", "Object storage is not configured", http.StatusInternalServerError)
	ErrInternal             = New("INTERNAL_ERROR", "An unexpected error occurred", http.StatusInternalServerError)
)

// Tenants.
var (
	ErrTenantNameRequired    = New("TENANT_NAME_REQUIRED", "Organization name is required", http.StatusBadRequest)
	ErrTenantUpdateForbidden = New("TENANT_UPDATE_FORBIDDEN", "Only owners and admins can update organization settings", http.StatusForbidden)
	ErrTenantDeleteForbidden = New("TENANT_DELETE_FORBIDDEN", "Only the owner can delete the organization", http.StatusForbidden)
)

// Invitations.
var (
	ErrInvitationAlreadyMember   = New("INVITATION_ALREADY_MEMBER", "This user is already a member of the organization", http.StatusConflict)
	ErrInvitationAlreadySent     = New("INVITATION_ALREADY_SENT", "An invitation has already been sent to this email", http.StatusConflict)
	ErrInvitationExpired         = New("INVITATION_EXPIRED", "This invitation has expired", http.StatusGone)
	ErrInvitationAlreadyAccepted = New("INVITATION_ALREADY_ACCEPTED", "This invitation has already been accepted", http.StatusConflict)
	ErrInvitationAlreadyDeclined = New("INVITATION_ALREADY_DECLINED", "This invitation has already been declined", http.StatusConflict)
	ErrInvitationEmailMismatch   = New("INVITATION_EMAIL_MISMATCH", "This invitation was sent to a different email address", http.StatusForbidden)
	ErrInvitationMustBeSignedIn  = New("INVITATION_MUST_BE_SIGNED_IN", "You must be signed in to accept an invitation", http.StatusUnauthorized)
	ErrInvitationCancelForbidden = New("INVITATION_CANCEL_FORBIDDEN", "Only owners and admins can cancel invitations", http.StatusForbidden)
	ErrInvitationResendForbidden = New("INVITATION_RESEND_FORBIDDEN", "Only owners and admins can resend invitations", http.StatusForbidden)
	ErrInvitePermissionDenied    = New("INVITE_PERMISSION_DENIED", "Only owners and admins can invite members", http.StatusForbidden)
)

// Memberships.
var (
	ErrRoleUpdateForbidden    = New("MEMBERSHIP_ROLE_UPDATE_FORBIDDEN", "Only the owner can change member roles", http.StatusForbidden)
	ErrCannotChangeOwnRole    = New("MEMBERSHIP_CANNOT_CHANGE_OWN_ROLE", "You cannot change your own role", http.StatusForbidden)
	ErrRemoveForbidden        = New("MEMBERSHIP_REMOVE_FORBIDDEN", "Only the owner can remove members", http.StatusForbidden)
	ErrCannotRemoveSelf       = New("MEMBERSHIP_CANNOT_REMOVE_SELF", "You cannot remove yourself from the organization", http.StatusForbidden)
	ErrCannotRemoveLastOwner  = New("MEMBERSHIP_CANNOT_REMOVE_LAST_OWNER", "Cannot remove the last owner. Transfer ownership first.", http.StatusForbidden)
	ErrCannotLeaveAsLastOwner = New("MEMBERSHIP_CANNOT_LEAVE_AS_LAST_OWNER", "Cannot leave as the last owner. Transfer ownership or delete the organization.", http.StatusForbidden)
	ErrNotMember              = New("MEMBERSHIP_NOT_MEMBER", "You are not a member of this organization", http.StatusForbidden)
	ErrAlreadyMember          = New("MEMBERSHIP_ALREADY_MEMBER", "You are already a member of this organization", http.StatusConflict)
)
