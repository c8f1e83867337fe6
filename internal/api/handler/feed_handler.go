package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feed-engine/internal/model"
	"github.com/d60-Lab/feed-engine/internal/service"
	"github.com/d60-Lab/feed-engine/pkg/response"
)

type postFeedRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Comment string `json:"comment" binding:"required,max=500"`
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Age      int    `json:"age"`
}

// PostFeed 发帖（同步写缓存+缓冲，异步扇出）
// @Summary 发帖
// @Tags feed
// @Accept json
// @Produce json
// @Param request body postFeedRequest true "帖子内容"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/feeds [post]
func (h *Handler) PostFeed(c *gin.Context) {
	var req postFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	feed, err := h.feedService.Post(c.Request.Context(), req.UserID, req.Comment)
	if err != nil {
		if errors.Is(err, service.ErrInvalidUser) || errors.Is(err, service.ErrEmptyComment) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, feed)
}

// DeleteFeed 删帖
// @Summary 删帖
// @Tags feed
// @Param uuid path string true "帖子 uuid"
// @Success 200 {object} response.Response
// @Router /api/v1/feeds/{uuid} [delete]
func (h *Handler) DeleteFeed(c *gin.Context) {
	id := c.Param("uuid")
	feed, err := h.feedService.Lookup(c.Request.Context(), id)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if feed == nil {
		response.NotFound(c, "feed not found")
		return
	}
	if err := h.feedService.Delete(c.Request.Context(), id); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetFeed 关注流分页
// @Summary 关注流
// @Tags feed
// @Param user_id query string true "用户ID"
// @Param time query int false "毫秒游标，缺省为当前时间"
// @Param limit query int false "每页数量" default(50)
// @Success 200 {object} response.Response{data=service.Page}
// @Router /api/v1/feeds [get]
func (h *Handler) GetFeed(c *gin.Context) {
	h.page(c, service.KindFeed)
}

// GetProfile 主页流分页
// @Summary 个人主页流
// @Tags feed
// @Param user_id path string true "用户ID"
// @Param time query int false "毫秒游标，缺省为当前时间"
// @Param limit query int false "每页数量" default(50)
// @Success 200 {object} response.Response{data=service.Page}
// @Router /api/v1/users/{user_id}/profile [get]
func (h *Handler) GetProfile(c *gin.Context) {
	h.page(c, service.KindProfile)
}

func (h *Handler) page(c *gin.Context, kind service.FeedKind) {
	userID := c.Param("user_id")
	if userID == "" {
		userID = c.Query("user_id")
	}
	cursor, _ := strconv.ParseInt(c.DefaultQuery("time", "0"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		response.BadRequest(c, "invalid limit")
		return
	}

	var page *service.Page
	if kind == service.KindProfile {
		page, err = h.feedService.GetProfile(c.Request.Context(), userID, cursor, limit)
	} else {
		page, err = h.feedService.GetFeed(c.Request.Context(), userID, cursor, limit)
	}
	if err != nil {
		if errors.Is(err, service.ErrInvalidLimit) || errors.Is(err, service.ErrInvalidUser) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"items": page.Items, "limit": page.Limit, "next_time": page.NextCursor()})
}

// Register 注册用户并加入订阅目录
// @Summary 注册用户
// @Tags user
// @Accept json
// @Produce json
// @Param request body registerRequest true "用户信息"
// @Success 200 {object} response.Response
// @Router /api/v1/users [post]
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user := &model.User{Username: req.Username, Email: req.Email, Age: req.Age}
	if err := h.feedService.Register(c.Request.Context(), user); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, user)
}
