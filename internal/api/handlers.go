package api

import (
	"net/http"
	"strconv"

	"amlgate/internal/contract"
	"amlgate/pkg/models"

	"github.com/gin-gonic/gin"
)

func sender(c *gin.Context) string {
	return c.GetHeader(SenderHeader)
}

// instantiate POST /api/v1/instantiate
func (s *Server) instantiate(c *gin.Context) {
	var msg contract.InstantiateMsg
	if err := c.ShouldBindJSON(&msg); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := s.gateway.Instantiate(c.Request.Context(), sender(c), msg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// rotateOracleKey PUT /api/v1/oracle/key
func (s *Server) rotateOracleKey(c *gin.Context) {
	var msg contract.RotateOracleKeyMsg
	if err := c.ShouldBindJSON(&msg); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := s.gateway.RotateOracleKey(c.Request.Context(), sender(c), msg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// submitOracleDataset POST /api/v1/oracle/dataset
func (s *Server) submitOracleDataset(c *gin.Context) {
	var msg contract.SubmitOracleDatasetMsg
	if err := c.ShouldBindJSON(&msg); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := s.gateway.SubmitOracleDataset(c.Request.Context(), sender(c), msg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// submitTransferRequest POST /api/v1/transfers
func (s *Server) submitTransferRequest(c *gin.Context) {
	var msg contract.SubmitTransferRequestMsg
	if err := c.ShouldBindJSON(&msg); err != nil {
		badRequest(c, err)
		return
	}

	resp, id, err := s.gateway.SubmitTransferRequest(c.Request.Context(), sender(c), msg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id": id,
		"events":     resp.Events,
		"messages":   resp.Messages,
	})
}

// submitOracleVerdict POST /api/v1/oracle/verdicts
func (s *Server) submitOracleVerdict(c *gin.Context) {
	var verdict models.Verdict
	if err := c.ShouldBindJSON(&verdict); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := s.gateway.SubmitOracleVerdict(c.Request.Context(), sender(c), verdict)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getComplianceRecords GET /api/v1/compliance
func (s *Server) getComplianceRecords(c *gin.Context) {
	records, err := s.gateway.ComplianceRecords(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": len(records)})
}

// checkWallet GET /api/v1/compliance/:wallet
func (s *Server) checkWallet(c *gin.Context) {
	check, err := s.gateway.CheckWallet(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

// getOracleKey GET /api/v1/oracle/key
func (s *Server) getOracleKey(c *gin.Context) {
	key, err := s.gateway.OracleKey(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

// getAdmin GET /api/v1/admin
func (s *Server) getAdmin(c *gin.Context) {
	admin, err := s.gateway.Admin(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admin": admin})
}

// getPendingRequests GET /api/v1/transfers
func (s *Server) getPendingRequests(c *gin.Context) {
	transfers, err := s.gateway.PendingRequests(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": transfers, "total": len(transfers)})
}

// getPendingRequest GET /api/v1/transfers/:id
func (s *Server) getPendingRequest(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, err)
		return
	}

	transfer, err := s.gateway.PendingRequest(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

// getNextRequestID GET /api/v1/transfers/next
func (s *Server) getNextRequestID(c *gin.Context) {
	id, err := s.gateway.NextRequestID(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"next_request_id": id})
}

// getNextSettlementID GET /api/v1/settlement/next
func (s *Server) getNextSettlementID(c *gin.Context) {
	id, err := s.gateway.NextSettlementID(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"next_settlement_id": id})
}

// getStatus GET /api/v1/status
func (s *Server) getStatus(c *gin.Context) {
	status, err := s.gateway.Status(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
