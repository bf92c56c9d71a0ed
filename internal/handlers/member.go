package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/types"
)

type MemberHandler struct {
	log        *logger.Logger
	memberRepo repos.MemberRepo
}

func NewMemberHandler(log *logger.Logger, memberRepo repos.MemberRepo) *MemberHandler {
	return &MemberHandler{
		log:        log.With("handler", "MemberHandler"),
		memberRepo: memberRepo,
	}
}

// POST /api/members
func (h *MemberHandler) CreateMember(c *gin.Context) {
	var member types.Member
	if err := c.ShouldBindJSON(&member); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	if member.LastName == "" || member.FirstName == "" || member.Email == "" {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation,
			errors.New("last_name, first_name and email are required"))
		return
	}
	member.ID = uuid.Nil
	if err := h.memberRepo.Create(c.Request.Context(), nil, &member); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			RespondError(c, http.StatusConflict, apierr.CodeDuplicateEntity,
				errors.New("a member with this email already exists"))
			return
		}
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, member)
}

// GET /api/members/:id
func (h *MemberHandler) GetMember(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	member, err := h.memberRepo.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if member == nil {
		RespondError(c, http.StatusNotFound, apierr.CodeNotFound, errors.New("member not found"))
		return
	}
	RespondOK(c, member)
}
