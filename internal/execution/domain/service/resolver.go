// Package service holds the execution domain services: reference
// resolution and type coercion, which together turn a queue row into
// the concrete parameter map its node script receives.
package service

import (
	"context"
	"errors"

	connectionmodel "github.com/miniflow-io/miniflow/internal/connection/domain/model"
	credentialmodel "github.com/miniflow-io/miniflow/internal/credential/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/domain/model"
	"github.com/miniflow-io/miniflow/internal/execution/domain/repository"
	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
	storagemodel "github.com/miniflow-io/miniflow/internal/storage/domain/model"
	workspacemodel "github.com/miniflow-io/miniflow/internal/workspace/domain/model"
	"github.com/miniflow-io/miniflow/pkg/reference"
)

// FileContentPath is the reserved file reference path that reads the
// file body instead of its metadata record.
const FileContentPath = "content"

// VariableSource loads workspace variables with values decrypted.
type VariableSource interface {
	GetVariablesByIDs(ctx context.Context, ids []string) ([]*workspacemodel.Variable, error)
}

// CredentialSource loads credentials with payloads decrypted.
type CredentialSource interface {
	GetDecryptedByIDs(ctx context.Context, ids []string) ([]*credentialmodel.Credential, error)
}

// ConnectionSource loads database connections with passwords decrypted.
type ConnectionSource interface {
	GetDecryptedByIDs(ctx context.Context, ids []string) ([]*connectionmodel.DatabaseConnection, error)
}

// FileSource loads file records and their stored content.
type FileSource interface {
	GetFilesByIDs(ctx context.Context, ids []string) ([]*storagemodel.FileRecord, error)
	ReadContent(ctx context.Context, file *storagemodel.FileRecord) ([]byte, error)
}

// Resolver turns the ${kind:body} references of a queue row into
// concrete values. Records are fetched in one batch per kind, never
// per parameter, and every workspace-owned record is checked against
// the executing workspace before its value leaks into a payload.
type Resolver struct {
	outputs     repository.ExecutionOutputRepository
	variables   VariableSource
	credentials CredentialSource
	connections ConnectionSource
	files       FileSource
	coercer     *Coercer
}

// NewResolver creates a resolver over the given sources
func NewResolver(
	outputs repository.ExecutionOutputRepository,
	variables VariableSource,
	credentials CredentialSource,
	connections ConnectionSource,
	files FileSource,
	coercer *Coercer,
) *Resolver {
	if coercer == nil {
		coercer = NewCoercer(nil, nil)
	}
	return &Resolver{
		outputs:     outputs,
		variables:   variables,
		credentials: credentials,
		connections: connections,
		files:       files,
		coercer:     coercer,
	}
}

// BuildParams resolves and coerces every parameter of one queue row.
// Optional parameters that resolve to nothing are omitted from the
// result rather than sent as nulls.
func (r *Resolver) BuildParams(ctx context.Context, execution *model.Execution, input *model.ExecutionInput) (map[string]interface{}, error) {
	refs := make(map[string]*reference.Reference, len(input.Params))
	ids := make(map[reference.Kind][]string)
	seen := make(map[reference.Kind]map[string]bool)

	for name, param := range input.Params {
		value, isString := param.EffectiveValue().(string)
		if !isString {
			continue
		}

		ref, isToken, err := reference.Parse(value)
		if err != nil {
			return nil, errs.InvalidInput("parameter %q: %v", name, err)
		}
		if !isToken {
			continue
		}

		refs[name] = ref
		if ref.ID == "" {
			continue
		}
		if seen[ref.Kind] == nil {
			seen[ref.Kind] = make(map[string]bool)
		}
		if !seen[ref.Kind][ref.ID] {
			seen[ref.Kind][ref.ID] = true
			ids[ref.Kind] = append(ids[ref.Kind], ref.ID)
		}
	}

	records, err := r.fetch(ctx, execution, ids, refs)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]interface{}, len(input.Params))
	for name, param := range input.Params {
		raw := param.EffectiveValue()
		if ref, ok := refs[name]; ok {
			raw, err = r.resolveReference(execution, ref, records)
			if err != nil {
				return nil, prefixParam(name, err)
			}
		}
		if raw == nil {
			continue
		}

		coerced, err := r.coercer.Coerce(raw, param.Type)
		if err != nil {
			return nil, errs.InvalidInput("parameter %q: %v", name, err)
		}
		resolved[name] = coerced
	}

	return resolved, nil
}

// fetchedRecords indexes everything one BuildParams call needs, one
// batch fetch per referenced kind.
type fetchedRecords struct {
	outputs     map[string]*model.ExecutionOutput
	variables   map[string]*workspacemodel.Variable
	credentials map[string]*credentialmodel.Credential
	connections map[string]*connectionmodel.DatabaseConnection
	files       map[string]*storagemodel.FileRecord
	contents    map[string][]byte
}

func (r *Resolver) fetch(ctx context.Context, execution *model.Execution, ids map[reference.Kind][]string, refs map[string]*reference.Reference) (*fetchedRecords, error) {
	records := &fetchedRecords{
		outputs:     make(map[string]*model.ExecutionOutput),
		variables:   make(map[string]*workspacemodel.Variable),
		credentials: make(map[string]*credentialmodel.Credential),
		connections: make(map[string]*connectionmodel.DatabaseConnection),
		files:       make(map[string]*storagemodel.FileRecord),
		contents:    make(map[string][]byte),
	}

	if len(ids[reference.KindNode]) > 0 {
		outputs, err := r.outputs.ListByExecutionID(ctx, execution.ID())
		if err != nil {
			return nil, errs.ContextBuild(err, "failed to load node outputs for execution %s", execution.ID())
		}
		for _, output := range outputs {
			records.outputs[output.NodeID] = output
		}
	}

	if wanted := ids[reference.KindValue]; len(wanted) > 0 {
		variables, err := r.variables.GetVariablesByIDs(ctx, wanted)
		if err != nil {
			return nil, errs.ContextBuild(err, "failed to load workspace variables")
		}
		for _, variable := range variables {
			records.variables[variable.ID] = variable
		}
	}

	if wanted := ids[reference.KindCredential]; len(wanted) > 0 {
		credentials, err := r.credentials.GetDecryptedByIDs(ctx, wanted)
		if err != nil {
			return nil, errs.ContextBuild(err, "failed to load credentials")
		}
		for _, credential := range credentials {
			records.credentials[credential.ID] = credential
		}
	}

	if wanted := ids[reference.KindDatabase]; len(wanted) > 0 {
		connections, err := r.connections.GetDecryptedByIDs(ctx, wanted)
		if err != nil {
			return nil, errs.ContextBuild(err, "failed to load database connections")
		}
		for _, connection := range connections {
			records.connections[connection.ID] = connection
		}
	}

	if wanted := ids[reference.KindFile]; len(wanted) > 0 {
		files, err := r.files.GetFilesByIDs(ctx, wanted)
		if err != nil {
			return nil, errs.ContextBuild(err, "failed to load file records")
		}
		for _, file := range files {
			records.files[file.ID] = file
		}

		for _, ref := range refs {
			if ref.Kind != reference.KindFile || ref.Path != FileContentPath {
				continue
			}
			file, ok := records.files[ref.ID]
			if !ok {
				continue
			}
			if _, done := records.contents[file.ID]; done {
				continue
			}
			content, err := r.files.ReadContent(ctx, file)
			if err != nil {
				return nil, errs.ContextBuild(err, "failed to read file %s", file.ID)
			}
			records.contents[file.ID] = content
		}
	}

	return records, nil
}

func (r *Resolver) resolveReference(execution *model.Execution, ref *reference.Reference, records *fetchedRecords) (interface{}, error) {
	switch ref.Kind {
	case reference.KindStatic:
		return ref.Path, nil

	case reference.KindTrigger:
		value, err := reference.Navigate(execution.TriggerData(), ref.Path)
		if err != nil {
			return nil, errs.ContextBuild(err, "trigger data has no value at %q", ref.Path)
		}
		return value, nil

	case reference.KindNode:
		output, ok := records.outputs[ref.ID]
		if !ok {
			return nil, errs.ContextBuild(nil, "node %s has no recorded output", ref.ID)
		}
		if !output.Succeeded() {
			return nil, errs.ContextBuild(nil, "node %s finished %s, its output is not referenceable", ref.ID, output.Status)
		}
		value, err := reference.Navigate(output.ResultData, ref.Path)
		if err != nil {
			return nil, errs.ContextBuild(err, "output of node %s has no value at %q", ref.ID, ref.Path)
		}
		return value, nil

	case reference.KindValue:
		variable, ok := records.variables[ref.ID]
		if !ok {
			return nil, errs.ContextBuild(nil, "workspace variable %s not found", ref.ID)
		}
		if variable.WorkspaceID != execution.WorkspaceID() {
			return nil, errs.InvalidInput("variable %s belongs to another workspace", ref.ID)
		}
		return variable.Value, nil

	case reference.KindCredential:
		credential, ok := records.credentials[ref.ID]
		if !ok {
			return nil, errs.ContextBuild(nil, "credential %s not found", ref.ID)
		}
		if credential.WorkspaceID != execution.WorkspaceID() {
			return nil, errs.InvalidInput("credential %s belongs to another workspace", ref.ID)
		}
		value, err := reference.Navigate(credential.Data, ref.Path)
		if err != nil {
			return nil, errs.ContextBuild(err, "credential %s has no value at %q", ref.ID, ref.Path)
		}
		return value, nil

	case reference.KindDatabase:
		connection, ok := records.connections[ref.ID]
		if !ok {
			return nil, errs.ContextBuild(nil, "database connection %s not found", ref.ID)
		}
		if connection.WorkspaceID != execution.WorkspaceID() {
			return nil, errs.InvalidInput("database connection %s belongs to another workspace", ref.ID)
		}
		value, err := reference.Navigate(connection.Record(), ref.Path)
		if err != nil {
			return nil, errs.ContextBuild(err, "database connection %s has no value at %q", ref.ID, ref.Path)
		}
		return value, nil

	case reference.KindFile:
		file, ok := records.files[ref.ID]
		if !ok {
			return nil, errs.ContextBuild(nil, "file %s not found", ref.ID)
		}
		if file.WorkspaceID != execution.WorkspaceID() {
			return nil, errs.InvalidInput("file %s belongs to another workspace", ref.ID)
		}
		if ref.Path == FileContentPath {
			content, ok := records.contents[file.ID]
			if !ok {
				return nil, errs.ContextBuild(nil, "content of file %s was not loaded", file.ID)
			}
			return string(content), nil
		}
		value, err := reference.Navigate(file.MetadataRecord(), ref.Path)
		if err != nil {
			return nil, errs.ContextBuild(err, "file %s has no metadata at %q", ref.ID, ref.Path)
		}
		return value, nil

	default:
		return nil, errs.InvalidInput("unknown reference kind %q", ref.Kind)
	}
}

// prefixParam keeps the error kind while naming the parameter that
// failed to resolve.
func prefixParam(name string, err error) error {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return typed.WithDetail("parameter", name)
	}
	return errs.ContextBuild(err, "parameter %q failed to resolve", name)
}
