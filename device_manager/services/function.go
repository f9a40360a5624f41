package services

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/flowgraph"
	"nodedash/device_manager/schema"
	"nodedash/utils"
	"nodedash/utils/logging"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

var functionStatuses = []string{schema.FunctionActive, schema.FunctionInactive, schema.FunctionError}

// A back-fill must finish the execution.
var finalExecutionStatuses = []string{schema.ExecutionSuccess, schema.ExecutionError, schema.ExecutionPartialSuccess}

var ErrHistoryFinalized = apperr.New(apperr.Conflict, "Function execution has already completed")

type FunctionService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *FunctionService) history() *historyHandlers[schema.Function, schema.FunctionHistory] {
	return &historyHandlers[schema.Function, schema.FunctionHistory]{
		db:       s.db,
		resource: "function",
		param:    "function_id",
		column:   "function_id",
		load:     schema.GetFunction,
		parentOf: func(h schema.FunctionHistory) uint { return h.FunctionId },
		prepare: func(h *schema.FunctionHistory, parentId uint, now time.Time) {
			h.Id = 0
			h.FunctionId = parentId
			h.Timestamp = now
			if h.Status == "" {
				h.Status = schema.ExecutionRunning
			}
		},
	}
}

func (s *FunctionService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	history := s.history()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Get("/history", history.ListAll)
	r.Get("/history/{history_id}", history.Get)
	r.Put("/history/{history_id}", s.CompleteExecution)

	r.Route("/{function_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/history", history.List)
		r.Post("/history", history.Record)
	})

	return r
}

type functionInfo struct {
	Id          uint                       `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Code        string                     `json:"code"`
	Parameters  []schema.FunctionParameter `json:"parameters"`
	Status      string                     `json:"status"`
	ownerInfo
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func convertToFunctionInfo(function schema.Function) functionInfo {
	params := function.Parameters
	if params == nil {
		params = []schema.FunctionParameter{}
	}
	return functionInfo{
		Id:          function.Id,
		Name:        function.Name,
		Description: function.Description,
		Code:        function.Code,
		Parameters:  params,
		Status:      function.Status,
		ownerInfo:   newOwnerInfo(function.Ownership),
		CreatedAt:   function.CreatedAt,
		UpdatedAt:   function.UpdatedAt,
	}
}

type functionRequest struct {
	Name        *string                    `json:"name"`
	Description *string                    `json:"description"`
	Code        *string                    `json:"code"`
	Parameters  []schema.FunctionParameter `json:"parameters"`
	Status      *string                    `json:"status"`
}

func (req functionRequest) apply(function *schema.Function) error {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return apperr.New(apperr.Validation, "function name must not be empty")
		}
		function.Name = name
	}
	if req.Description != nil {
		function.Description = *req.Description
	}
	if req.Code != nil {
		function.Code = *req.Code
	}
	if req.Parameters != nil {
		for _, p := range req.Parameters {
			if p.Name == "" {
				return apperr.New(apperr.Validation, "function parameters must have a name")
			}
		}
		function.Parameters = req.Parameters
	}
	if req.Status != nil {
		if err := oneOf(*req.Status, functionStatuses, "status"); err != nil {
			return err
		}
		function.Status = *req.Status
	}
	return nil
}

func (s *FunctionService) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	functions, err := listOwned[schema.Function](s.db, user, params)
	if err != nil {
		writeError(w, "listing functions", err)
		return
	}

	infos := make([]functionInfo, 0, len(functions))
	for _, function := range functions {
		infos = append(infos, convertToFunctionInfo(function))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *FunctionService) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params functionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == nil {
		http.Error(w, "function name must be specified", http.StatusBadRequest)
		return
	}

	function := schema.Function{Status: schema.FunctionInactive, Parameters: []schema.FunctionParameter{}}
	if err := params.apply(&function); err != nil {
		writeError(w, "creating function", err)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		owner, err := auth.ResolveOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		function.Ownership = owner

		if err := checkUniqueName(txn, &schema.Function{}, "function", function.Name, 0); err != nil {
			return err
		}

		if err := txn.Create(&function).Error; err != nil {
			return dbError("sql error creating function", err)
		}
		return nil
	})

	if err != nil {
		writeError(w, "creating function", err)
		return
	}

	utils.WriteJsonStatus(w, http.StatusCreated, convertToFunctionInfo(function))
}

func (s *FunctionService) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	functionId, ok := urlId(w, r, "function_id")
	if !ok {
		return
	}

	function, err := getOwned(s.db, user, "read", func() (schema.Function, error) {
		return schema.GetFunction(functionId, s.db)
	})
	if err != nil {
		writeError(w, "retrieving function", err)
		return
	}

	utils.WriteJsonResponse(w, convertToFunctionInfo(function))
}

func (s *FunctionService) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	functionId, ok := urlId(w, r, "function_id")
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params functionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var function schema.Function
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		function, err = getOwned(txn, user, "update", func() (schema.Function, error) {
			return schema.GetFunction(functionId, txn)
		})
		if err != nil {
			return err
		}

		owner, err := transferOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		if owner != nil {
			function.Ownership = *owner
		}

		if err := params.apply(&function); err != nil {
			return err
		}

		if params.Name != nil {
			if err := checkUniqueName(txn, &schema.Function{}, "function", function.Name, function.Id); err != nil {
				return err
			}
		}

		if err := txn.Save(&function).Error; err != nil {
			return dbError("sql error updating function", err, "function_id", functionId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "updating function", err)
		return
	}

	utils.WriteJsonResponse(w, convertToFunctionInfo(function))
}

// pruneFlows removes every node referencing the function from every flow and
// saves the flows that changed.
func pruneFlows(txn *gorm.DB, functionId uint) (int, error) {
	var flows []schema.Flow
	if err := txn.Find(&flows).Error; err != nil {
		return 0, dbError("sql error loading flows", err)
	}

	pruned := 0
	for i := range flows {
		graph := flows[i].Graph()
		if !flowgraph.PruneFunctionReferences(graph, functionId) {
			continue
		}
		flows[i].SetGraph(graph)

		result := txn.Model(&flows[i]).Select("Nodes", "Edges").Updates(&flows[i])
		if result.Error != nil {
			return 0, dbError("sql error saving pruned flow", result.Error, "flow_id", flows[i].Id)
		}
		pruned++
	}
	return pruned, nil
}

// Delete removes the function, its history and every flow node that points
// at it in one transaction.
func (s *FunctionService) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	functionId, ok := urlId(w, r, "function_id")
	if !ok {
		return
	}

	var pruned int
	err := s.db.Transaction(func(txn *gorm.DB) error {
		function, err := getOwned(txn, user, "delete", func() (schema.Function, error) {
			return schema.GetFunction(functionId, txn)
		})
		if err != nil {
			return err
		}

		pruned, err = pruneFlows(txn, functionId)
		if err != nil {
			return err
		}

		if err := deleteHistory(txn, &schema.FunctionHistory{}, "function_id", functionId); err != nil {
			return err
		}

		if err := txn.Delete(&function).Error; err != nil {
			return dbError("sql error deleting function", err, "function_id", functionId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "deleting function", err)
		return
	}

	slog.Info("function deleted", logging.Code(logging.FLOW_PRUNE), "function_id", functionId, "flows_pruned", pruned)
	utils.WriteSuccess(w)
}

type completeExecutionRequest struct {
	Status        string                 `json:"status"`
	OutputData    map[string]interface{} `json:"output_data"`
	ErrorMessage  string                 `json:"error_message"`
	ExecutionTime *float64               `json:"execution_time"`
}

// CompleteExecution back-fills the final result of an execution that is still
// running or pending. Finished executions cannot be changed.
func (s *FunctionService) CompleteExecution(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	historyId, ok := urlId(w, r, "history_id")
	if !ok {
		return
	}

	var params completeExecutionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := oneOf(params.Status, finalExecutionStatuses, "status"); err != nil {
		writeError(w, "updating function history", err)
		return
	}

	var entry schema.FunctionHistory
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		entry, err = getHistory[schema.FunctionHistory](txn, historyId)
		if err != nil {
			return err
		}

		_, err = getOwned(txn, user, "update", func() (schema.Function, error) {
			return schema.GetFunction(entry.FunctionId, txn)
		})
		if err != nil {
			return err
		}

		if entry.Status != schema.ExecutionRunning && entry.Status != schema.ExecutionPending {
			return ErrHistoryFinalized
		}

		entry.Status = params.Status
		if params.OutputData != nil {
			entry.OutputData = params.OutputData
		}
		if params.ErrorMessage != "" {
			entry.ErrorMessage = params.ErrorMessage
		}
		if params.ExecutionTime != nil {
			entry.ExecutionTime = params.ExecutionTime
		}

		result := txn.Model(&entry).
			Where("status IN ?", []string{schema.ExecutionRunning, schema.ExecutionPending}).
			Select("Status", "OutputData", "ErrorMessage", "ExecutionTime").
			Updates(&entry)
		if result.Error != nil {
			return dbError("sql error updating function history", result.Error, "history_id", historyId)
		}
		if result.RowsAffected == 0 {
			return ErrHistoryFinalized
		}
		return nil
	})

	if err != nil {
		writeError(w, "updating function history", err)
		return
	}

	utils.WriteJsonResponse(w, entry)
}
