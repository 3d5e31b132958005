package inbound

import (
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	apperrors "inbound-backend/internal/errors"
	"inbound-backend/pkg/utils"
)

// HandleSESEvent accepts an SES receipt event from the email-processor. The
// body is either a Request or a bare SES event.
func HandleSESEvent(p *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithErr(err))
			return
		}
		if len(req.Event.Records) == 0 {
			var bare events.SimpleEmailEvent
			if err := c.ShouldBindBodyWith(&bare, binding.JSON); err == nil {
				req.Event = bare
			}
		}
		if len(req.Event.Records) == 0 {
			utils.SendErrorResponse(c, http.StatusBadRequest, apperrors.ErrValidationFailed.WithDetails("event has no records"))
			return
		}

		results, err := p.Process(c.Request.Context(), req)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusInternalServerError, apperrors.ErrInternal.WithErr(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"processed": len(results),
			"results":   results,
		})
	}
}
