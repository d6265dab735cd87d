package broadcast

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pickme-go/log/v2"
)

type Err struct {
	Err string `json:"error"`
}

// MakeEndpoints exposes a BackendRegistry over HTTP so workers running in other
// processes can register and fetch side inputs through an HTTPClient.
//
//	GET  /broadcasts          registered handles
//	PUT  /broadcasts/{name}   register the request body, responds with the handle
//	GET  /broadcasts/{name}/{id}  blob bytes
func MakeEndpoints(registry *BackendRegistry, logger log.Logger) http.Handler {
	logger = logger.NewLog(log.Prefixed(`broadcast-http`))
	// names may contain escaped slashes
	r := mux.NewRouter().UseEncodedPath()

	r.HandleFunc(`/broadcasts`, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set(`Content-Type`, `application/json`)
		if err := json.NewEncoder(writer).Encode(registry.Handles()); err != nil {
			logger.Error(err)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc(`/broadcasts/{name}`, func(writer http.ResponseWriter, request *http.Request) {
		vars, err := pathVars(request)
		if err != nil {
			writeError(writer, logger, http.StatusBadRequest, err)
			return
		}

		blob, err := io.ReadAll(request.Body)
		if err != nil {
			writeError(writer, logger, http.StatusBadRequest, err)
			return
		}

		h, err := registry.Register(request.Context(), vars[`name`], blob)
		if err != nil {
			writeError(writer, logger, http.StatusInternalServerError, err)
			return
		}

		writer.Header().Set(`Content-Type`, `application/json`)
		writer.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(writer).Encode(h); err != nil {
			logger.Error(err)
		}
	}).Methods(http.MethodPut)

	r.HandleFunc(`/broadcasts/{name}/{id}`, func(writer http.ResponseWriter, request *http.Request) {
		vars, err := pathVars(request)
		if err != nil {
			writeError(writer, logger, http.StatusBadRequest, err)
			return
		}

		h, ok := registry.Handle(vars[`id`])
		if !ok || h.Name != vars[`name`] {
			writeError(writer, logger, http.StatusNotFound,
				fmt.Errorf(`broadcast %s[%s] dose not exist`, vars[`name`], vars[`id`]))
			return
		}

		blob, err := registry.Fetch(request.Context(), h)
		if err != nil {
			writeError(writer, logger, http.StatusInternalServerError, err)
			return
		}

		writer.Header().Set(`Content-Type`, `application/octet-stream`)
		if _, err := writer.Write(blob); err != nil {
			logger.Error(err)
		}
	}).Methods(http.MethodGet)

	return handlers.CORS()(r)
}

func pathVars(request *http.Request) (map[string]string, error) {
	vars := make(map[string]string)
	for k, v := range mux.Vars(request) {
		unescaped, err := url.PathUnescape(v)
		if err != nil {
			return nil, err
		}
		vars[k] = unescaped
	}

	return vars, nil
}

func writeError(w http.ResponseWriter, logger log.Logger, status int, e error) {
	byt, err := json.Marshal(Err{Err: e.Error()})
	if err != nil {
		logger.Error(err)
	}

	w.Header().Set(`Content-Type`, `application/json`)
	w.WriteHeader(status)
	if _, err := w.Write(byt); err != nil {
		logger.Error(err)
	}
}
