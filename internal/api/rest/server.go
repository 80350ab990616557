package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/0xsysr3ll/electledger/internal/kafka"
	"github.com/0xsysr3ll/electledger/internal/model"
	"github.com/0xsysr3ll/electledger/internal/service"
)

// Server is the operational REST surface: health, ballot and results reads
// for dashboards, plus the gateway endpoint that enqueues cast-vote events
// onto the stream. The gateway endpoint never writes the ledger directly;
// acceptance is decided by the consumer through the exactly-once protocol.
type Server struct {
	engine          *gin.Engine
	electionService *service.ElectionService
	producer        *kafka.Producer
	log             *logrus.Logger
}

type castVoteRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Selector *int   `json:"selector" binding:"required"`
}

func NewServer(electionService *service.ElectionService, producer *kafka.Producer, log *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:          engine,
		electionService: electionService,
		producer:        producer,
		log:             log,
	}

	engine.GET("/healthz", s.health)
	engine.GET("/ballot", s.ballot)
	engine.GET("/results", s.results)
	engine.GET("/voters/:id/voted", s.voted)
	engine.POST("/votes", s.enqueueVote)

	return s
}

// Start blocks serving the REST API.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.log.WithField("addr", addr).Info("rest server listening")
	return s.engine.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	// The ballot read doubles as a store liveness probe.
	if _, err := s.electionService.ListBallot(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ballot(c *gin.Context) {
	candidates, err := s.electionService.ListBallot()
	if err != nil {
		s.log.WithError(err).Error("failed to list ballot")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger store unavailable"})
		return
	}
	c.JSON(http.StatusOK, candidates)
}

func (s *Server) results(c *gin.Context) {
	entries, err := s.electionService.Results()
	if err != nil {
		s.log.WithError(err).Error("failed to tally results")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger store unavailable"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) voted(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voter id"})
		return
	}

	voted, err := s.electionService.HasVoted(userID)
	if err != nil {
		s.log.WithError(err).Error("failed to read voted state")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": c.Param("id"), "hasVoted": voted})
}

func (s *Server) enqueueVote(c *gin.Context) {
	var req castVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and selector are required"})
		return
	}

	userID, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voter id"})
		return
	}

	event := &model.CastVoteEvent{
		VoterID:  userID,
		Selector: *req.Selector,
	}

	if err := s.producer.PublishCastVote(event); err != nil {
		s.log.WithError(err).Error("failed to publish cast-vote event")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"eventId": event.EventID})
}
