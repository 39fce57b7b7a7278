package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chainforge/contractforge/network"
	"github.com/chainforge/contractforge/scheduler"
	"github.com/chainforge/contractforge/stage"
)

// generateRequestBody is the wire shape of POST /workflows/generate,
// spec.md §6's request column.
type generateRequestBody struct {
	NLPInput            string                     `json:"nlp_input"`
	Network             string                     `json:"network"`
	ContractType        string                     `json:"contract_type,omitempty"`
	OptimizeForMetisVM  bool                       `json:"optimize_for_metisvm,omitempty"`
	EnableFloatingPoint bool                       `json:"enable_floating_point,omitempty"`
	EnableAIInference   bool                       `json:"enable_ai_inference,omitempty"`
	AuditLevel          string                     `json:"audit_level,omitempty"`
	StrictTesting       bool                       `json:"strict_testing,omitempty"`
	DeployerAddress     string                     `json:"deployer_address,omitempty"`
	PrivateKey          string                     `json:"private_key,omitempty"`
	GasLimit            uint64                     `json:"gas_limit,omitempty"`
	BatchContracts      []batchContractInputBody   `json:"batch_contracts,omitempty"`
	MaxParallel         int                        `json:"max_parallel,omitempty"`
}

type batchContractInputBody struct {
	ContractName string   `json:"contract_name"`
	SourceCode   string   `json:"source_code"`
	Dependencies []string `json:"dependencies,omitempty"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var body generateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.NLPInput == "" || body.Network == "" {
		writeError(w, http.StatusBadRequest, "nlp_input and network are required")
		return
	}

	batch := make([]stage.BatchContractInput, 0, len(body.BatchContracts))
	for _, c := range body.BatchContracts {
		batch = append(batch, stage.BatchContractInput{
			ContractName: c.ContractName,
			SourceCode:   c.SourceCode,
			Dependencies: c.Dependencies,
		})
	}

	result, err := s.coordinator.Create(r.Context(), CreateRequest{
		NLPDescription:      body.NLPInput,
		Network:             body.Network,
		ContractType:        body.ContractType,
		OptimizeForMetisVM:  body.OptimizeForMetisVM,
		EnableFloatingPoint: body.EnableFloatingPoint,
		EnableAIInference:   body.EnableAIInference,
		AuditLevel:          body.AuditLevel,
		StrictTesting:       body.StrictTesting,
		DeployerAddress:     body.DeployerAddress,
		PrivateKey:          body.PrivateKey,
		GasLimit:            body.GasLimit,
		BatchContracts:      batch,
		MaxParallel:         body.MaxParallel,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	featuresUsed := make(map[string]bool, len(result.FeaturesUsed))
	for f, v := range result.FeaturesUsed {
		featuresUsed[string(f)] = v
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"workflow_id":   result.WorkflowID,
		"status":        "created",
		"warnings":      result.Warnings,
		"features_used": featuresUsed,
	})
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.coordinator.Status(r.Context(), id)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowContracts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	contracts, err := s.coordinator.Contracts(r.Context(), id)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, contracts)
}

func (s *Server) handleWorkflowDeployments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deployments, err := s.coordinator.Deployments(r.Context(), id)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coordinator.Cancel(r.Context(), id); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id, "status": "cancellation_requested"})
}

// batchDeployRequestBody is POST /deployments/batch's body. Unlike
// /workflows/generate, this endpoint runs the scheduler directly with no
// workflow row or pipeline stages attached — it's a thin wrapper for
// callers who already have compiled contracts in hand.
type batchDeployRequestBody struct {
	Contracts   []batchDeployContractBody `json:"contracts"`
	Network     string                    `json:"network"`
	Deployer    string                    `json:"deployer"`
	PrivateKey  string                    `json:"private_key"`
	UsePEF      bool                      `json:"use_pef"`
	MaxParallel int                       `json:"max_parallel"`
}

type batchDeployContractBody struct {
	ContractName     string          `json:"contract_name"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"`
	DeployedBytecode string          `json:"deployed_bytecode,omitempty"`
	SourceCode       string          `json:"source_code,omitempty"`
	Dependencies     []string        `json:"dependencies,omitempty"`
}

func (s *Server) handleBatchDeploy(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "batch deployment scheduler not configured")
		return
	}

	var body batchDeployRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Network == "" || len(body.Contracts) == 0 {
		writeError(w, http.StatusBadRequest, "network and contracts are required")
		return
	}

	pefSupported := s.networks.Supports(body.Network, network.FeaturePEF)
	if body.UsePEF && !pefSupported {
		s.logger.Warn("batch deploy requested use_pef on a network without PEF support; degrading to sequential", "network", body.Network)
	}

	contracts := make([]scheduler.ContractInput, 0, len(body.Contracts))
	for _, c := range body.Contracts {
		contracts = append(contracts, scheduler.ContractInput{
			ContractName:     c.ContractName,
			ABI:              c.ABI,
			Bytecode:         c.Bytecode,
			DeployedBytecode: c.DeployedBytecode,
			SourceCode:       c.SourceCode,
			Dependencies:     c.Dependencies,
		})
	}

	maxParallel := body.MaxParallel
	if maxParallel < 1 {
		maxParallel = 4
	}
	if !pefSupported {
		// Degraded execution, not just a warning: spec.md §4.2 treats deploying
		// a multi-contract batch on a network without BatchDeployment/PEF as a
		// forced sequential path, identical to max_parallel=1.
		maxParallel = 1
	}

	result := s.scheduler.Run(r.Context(), body.Network, body.Deployer, body.PrivateKey, contracts, maxParallel)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListNetworks(w http.ResponseWriter, r *http.Request) {
	ids := s.networks.List()
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		cfg, ok := s.networks.Get(id)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"id":        id,
			"chain_id":  cfg.ChainID,
			"explorer":  cfg.Explorer,
			"features":  s.networks.Features(id),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNetworkFeatures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "network")
	if _, ok := s.networks.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown network "+id)
		return
	}
	writeJSON(w, http.StatusOK, s.networks.Features(id))
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	result := make(map[string]string, len(s.health))
	overall := http.StatusOK
	for name, checker := range s.health {
		if err := checker.Check(r.Context()); err != nil {
			result[name] = "unhealthy: " + err.Error()
			overall = http.StatusServiceUnavailable
			continue
		}
		result[name] = "healthy"
	}
	writeJSON(w, overall, map[string]any{"status": result})
}
