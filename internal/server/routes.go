package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/host"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/schema"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol/tlv"
)

var errBadRequest = errors.New("bad request")

type variableView struct {
	Index uint32 `json:"index"`
	Value uint32 `json:"value"`
	Valid bool   `json:"valid"`
}

type variablesBody struct {
	Variables []struct {
		Index uint32 `json:"index"`
		Value uint32 `json:"value"`
	} `json:"variables"`
	Sync bool `json:"sync"`
}

type structureView struct {
	Index uint32 `json:"index"`
	Size  uint32 `json:"size"`
	Data  string `json:"data"`
	Valid bool   `json:"valid"`
}

type structureBody struct {
	Data string `json:"data"`
	Sync bool   `json:"sync"`
}

type messageView struct {
	MsgID   uint8    `json:"msg_id"`
	Name    string   `json:"name"`
	AppID   uint16   `json:"app_id"`
	Seq     uint32   `json:"seq"`
	Flags   uint8    `json:"flags"`
	Payload []uint32 `json:"payload"`
}

func (g *Gateway) RegisterRoutes() {
	r := g.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(g.Appeared).String(),
			"service": g.ID,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		err := g.engine.Ping(c.Request.Context(), g.Target)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true, "service": g.ID})
	})

	r.POST("/ping", func(c *gin.Context) {
		t, err := g.target(c)
		if err != nil {
			fail(c, err)
			return
		}
		if err := g.engine.Ping(c.Request.Context(), t); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/version", func(c *gin.Context) {
		t, err := g.target(c)
		if err != nil {
			fail(c, err)
			return
		}
		v, err := g.engine.Version(c.Request.Context(), t)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"fpga_id":     v.FPGAID,
			"app_id":      v.AppID,
			"app_version": fmt.Sprintf("%d.%d", v.Major(), v.Minor()),
			"build_id":    v.BuildID,
		})
	})

	r.GET("/variables", g.getVariables)
	r.PUT("/variables", g.setVariables)
	r.GET("/structures/:index", g.getStructure)
	r.PUT("/structures/:index", g.setStructure)
	r.GET("/stream/:slot", g.stream)
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// target applies in, out, app_id and timeout_ms query overrides.
func (g *Gateway) target(c *gin.Context) (host.Target, error) {
	t := g.Target
	if v := c.Query("in"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return t, fmt.Errorf("%w: in=%q", errBadRequest, v)
		}
		t.In = n
	}
	if v := c.Query("out"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return t, fmt.Errorf("%w: out=%q", errBadRequest, v)
		}
		t.Out = n
	}
	if v := c.Query("app_id"); v != "" {
		n, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return t, fmt.Errorf("%w: app_id=%q", errBadRequest, v)
		}
		t.AppID = uint16(n)
	}
	if v := c.Query("timeout_ms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return t, fmt.Errorf("%w: timeout_ms=%q", errBadRequest, v)
		}
		t.Timeout = time.Duration(n) * time.Millisecond
	}
	return t, nil
}

func parseIndex(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: index %q", errBadRequest, s)
	}
	return uint32(n), nil
}

func variableViews(vars []tlv.Variable) []variableView {
	out := make([]variableView, 0, len(vars))
	for _, v := range vars {
		valid := v.Index != protocol.InvalidValue
		out = append(out, variableView{Index: v.Index, Value: v.Value, Valid: valid})
	}
	return out
}

func (g *Gateway) getVariables(c *gin.Context) {
	t, err := g.target(c)
	if err != nil {
		fail(c, err)
		return
	}
	raw := c.QueryArray("index")
	if len(raw) == 0 {
		fail(c, fmt.Errorf("%w: at least one index is required", errBadRequest))
		return
	}
	indices := make([]uint32, 0, len(raw))
	for _, s := range raw {
		idx, err := parseIndex(s)
		if err != nil {
			fail(c, err)
			return
		}
		indices = append(indices, idx)
	}
	vars, err := g.engine.GetVariables(c.Request.Context(), t, indices)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variables": variableViews(vars)})
}

func (g *Gateway) setVariables(c *gin.Context) {
	t, err := g.target(c)
	if err != nil {
		fail(c, err)
		return
	}
	var body variablesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	vars := make([]tlv.Variable, 0, len(body.Variables))
	for _, v := range body.Variables {
		vars = append(vars, tlv.Variable{Index: v.Index, Value: v.Value})
	}
	back, err := g.engine.SetVariables(c.Request.Context(), t, vars, body.Sync)
	if err != nil {
		fail(c, err)
		return
	}
	if !body.Sync {
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"variables": variableViews(back)})
}

func structureViews(structs []tlv.Structure) []structureView {
	out := make([]structureView, 0, len(structs))
	for _, s := range structs {
		out = append(out, structureView{
			Index: s.Index,
			Size:  s.Size,
			Data:  hex.EncodeToString(s.Data),
			Valid: s.Index != protocol.InvalidValue,
		})
	}
	return out
}

func (g *Gateway) getStructure(c *gin.Context) {
	t, err := g.target(c)
	if err != nil {
		fail(c, err)
		return
	}
	index, err := parseIndex(c.Param("index"))
	if err != nil {
		fail(c, err)
		return
	}
	size, err := strconv.ParseUint(c.Query("size"), 0, 32)
	if err != nil {
		fail(c, fmt.Errorf("%w: size is required", errBadRequest))
		return
	}
	got, err := g.engine.GetStructures(c.Request.Context(), t, []tlv.Structure{{Index: index, Size: uint32(size)}})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"structures": structureViews(got)})
}

func (g *Gateway) setStructure(c *gin.Context) {
	t, err := g.target(c)
	if err != nil {
		fail(c, err)
		return
	}
	index, err := parseIndex(c.Param("index"))
	if err != nil {
		fail(c, err)
		return
	}
	var body structureBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	data, err := hex.DecodeString(body.Data)
	if err != nil {
		fail(c, fmt.Errorf("%w: data is not hex", errBadRequest))
		return
	}
	back, err := g.engine.SetStructures(c.Request.Context(), t, []tlv.Structure{tlv.NewStructure(index, data)}, body.Sync)
	if err != nil {
		fail(c, err)
		return
	}
	if !body.Sync {
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"structures": structureViews(back)})
}

// stream forwards frames from an output slot to a websocket until the client
// goes away. An optional msg_id query restricts the stream to one message id.
func (g *Gateway) stream(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		fail(c, fmt.Errorf("%w: slot %q", errBadRequest, c.Param("slot")))
		return
	}
	var filters []host.Filter
	if v := c.Query("msg_id"); v != "" {
		id, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			fail(c, fmt.Errorf("%w: msg_id=%q", errBadRequest, v))
			return
		}
		filters = append(filters, host.MatchMessageID(g.engine.Codec(), uint8(id)))
	}
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	wait := g.StreamWait
	if wait <= 0 {
		wait = DefaultStreamWait
	}
	for ctx.Err() == nil {
		msg, err := g.engine.Receive(ctx, slot, filters, wait)
		if errors.Is(err, protocol.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Int("slot", slot).Msg("stream receive failed")
				_ = conn.WriteJSON(gin.H{"error": err.Error()})
			}
			return
		}
		view := messageView{
			MsgID:   msg.Header.MsgID,
			Name:    schema.Name(msg.Header.MsgID),
			AppID:   msg.Header.AppID,
			Seq:     msg.Header.Seq,
			Flags:   msg.Header.Flags,
			Payload: msg.Payload,
		}
		if err := conn.WriteJSON(view); err != nil {
			return
		}
	}
}
