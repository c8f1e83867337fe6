package handler

import (
	"github.com/d60-Lab/feed-engine/internal/service"
)

type Handler struct {
	feedService *service.FeedService
}

func New(feedService *service.FeedService) *Handler {
	return &Handler{feedService: feedService}
}
