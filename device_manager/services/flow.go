package services

import (
	"net/http"
	"strings"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/flowgraph"
	"nodedash/device_manager/schema"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type FlowService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *FlowService) history() *historyHandlers[schema.Flow, schema.FlowHistory] {
	return &historyHandlers[schema.Flow, schema.FlowHistory]{
		db:       s.db,
		resource: "flow",
		param:    "flow_id",
		column:   "flow_id",
		load:     schema.GetFlow,
		parentOf: func(h schema.FlowHistory) uint { return h.FlowId },
		prepare: func(h *schema.FlowHistory, parentId uint, now time.Time) {
			h.Id = 0
			h.FlowId = parentId
			h.Timestamp = now
			if h.Status == "" {
				h.Status = schema.ExecutionPending
			}
		},
	}
}

func (s *FlowService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	history := s.history()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Get("/history", history.ListAll)
	r.Get("/history/{history_id}", history.Get)

	r.Route("/{flow_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/history", history.List)
		r.Post("/history", history.Record)
	})

	return r
}

type flowInfo struct {
	Id          uint                   `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Nodes       []flowgraph.Node       `json:"nodes"`
	Edges       []flowgraph.Edge       `json:"edges"`
	Layout      map[string]interface{} `json:"layout"`
	ownerInfo
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func convertToFlowInfo(flow schema.Flow) flowInfo {
	nodes, edges := flow.Nodes, flow.Edges
	if nodes == nil {
		nodes = []flowgraph.Node{}
	}
	if edges == nil {
		edges = []flowgraph.Edge{}
	}
	return flowInfo{
		Id:          flow.Id,
		Name:        flow.Name,
		Description: flow.Description,
		Nodes:       nodes,
		Edges:       edges,
		Layout:      flow.Layout,
		ownerInfo:   newOwnerInfo(flow.Ownership),
		CreatedAt:   flow.CreatedAt,
		UpdatedAt:   flow.UpdatedAt,
	}
}

type flowRequest struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Nodes       []flowgraph.Node       `json:"nodes"`
	Edges       []flowgraph.Edge       `json:"edges"`
	Layout      map[string]interface{} `json:"layout"`
}

// apply copies the set fields of the request onto the flow.
func (req flowRequest) apply(flow *schema.Flow) error {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return apperr.New(apperr.Validation, "flow name must not be empty")
		}
		flow.Name = name
	}
	if req.Description != nil {
		flow.Description = *req.Description
	}
	if req.Nodes != nil {
		flow.Nodes = req.Nodes
	}
	if req.Edges != nil {
		flow.Edges = req.Edges
	}
	if req.Layout != nil {
		flow.Layout = req.Layout
	}

	if err := flowgraph.Validate(flow.Graph()); err != nil {
		return apperr.Wrap(apperr.Validation, err)
	}
	return nil
}

func (s *FlowService) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flows, err := listOwned[schema.Flow](s.db, user, params)
	if err != nil {
		writeError(w, "listing flows", err)
		return
	}

	infos := make([]flowInfo, 0, len(flows))
	for _, flow := range flows {
		infos = append(infos, convertToFlowInfo(flow))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *FlowService) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params flowRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == nil {
		http.Error(w, "flow name must be specified", http.StatusBadRequest)
		return
	}

	flow := schema.Flow{Nodes: []flowgraph.Node{}, Edges: []flowgraph.Edge{}}
	if err := params.apply(&flow); err != nil {
		writeError(w, "creating flow", err)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		owner, err := auth.ResolveOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		flow.Ownership = owner

		if err := checkUniqueName(txn, &schema.Flow{}, "flow", flow.Name, 0); err != nil {
			return err
		}

		if err := txn.Create(&flow).Error; err != nil {
			return dbError("sql error creating flow", err)
		}
		return nil
	})

	if err != nil {
		writeError(w, "creating flow", err)
		return
	}

	utils.WriteJsonStatus(w, http.StatusCreated, convertToFlowInfo(flow))
}

func (s *FlowService) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	flowId, ok := urlId(w, r, "flow_id")
	if !ok {
		return
	}

	flow, err := getOwned(s.db, user, "read", func() (schema.Flow, error) {
		return schema.GetFlow(flowId, s.db)
	})
	if err != nil {
		writeError(w, "retrieving flow", err)
		return
	}

	utils.WriteJsonResponse(w, convertToFlowInfo(flow))
}

func (s *FlowService) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	flowId, ok := urlId(w, r, "flow_id")
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params flowRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var flow schema.Flow
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		flow, err = getOwned(txn, user, "update", func() (schema.Flow, error) {
			return schema.GetFlow(flowId, txn)
		})
		if err != nil {
			return err
		}

		owner, err := transferOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		if owner != nil {
			flow.Ownership = *owner
		}

		if err := params.apply(&flow); err != nil {
			return err
		}

		if params.Name != nil {
			if err := checkUniqueName(txn, &schema.Flow{}, "flow", flow.Name, flow.Id); err != nil {
				return err
			}
		}

		if err := txn.Save(&flow).Error; err != nil {
			return dbError("sql error updating flow", err, "flow_id", flowId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "updating flow", err)
		return
	}

	utils.WriteJsonResponse(w, convertToFlowInfo(flow))
}

func (s *FlowService) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	flowId, ok := urlId(w, r, "flow_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		flow, err := getOwned(txn, user, "delete", func() (schema.Flow, error) {
			return schema.GetFlow(flowId, txn)
		})
		if err != nil {
			return err
		}

		if err := deleteHistory(txn, &schema.FlowHistory{}, "flow_id", flowId); err != nil {
			return err
		}

		result := txn.Model(&schema.FunctionHistory{}).Where("flow_id = ?", flowId).Update("flow_id", nil)
		if result.Error != nil {
			return dbError("sql error detaching function history from flow", result.Error, "flow_id", flowId)
		}

		if err := txn.Delete(&flow).Error; err != nil {
			return dbError("sql error deleting flow", err, "flow_id", flowId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "deleting flow", err)
		return
	}

	utils.WriteSuccess(w)
}
