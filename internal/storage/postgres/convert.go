package postgres

import "github.com/jkaninda/sandrun/internal/domain"

func toFunctionModel(fn *domain.Function) FunctionModel {
	return FunctionModel{
		ID:             fn.ID,
		Name:           fn.Name,
		Description:    fn.Description,
		FunctionName:   fn.FunctionName,
		ParameterNames: fn.ParameterNames,
		BodySource:     fn.BodySource,
		ArgumentsText:  fn.ArgumentsText,
		Schedule:       fn.Schedule,
		CreatedBy:      fn.CreatedBy,
		CreatedAt:      fn.CreatedAt,
		UpdatedAt:      fn.UpdatedAt,
	}
}

func toFunctionDomain(m *FunctionModel) *domain.Function {
	return &domain.Function{
		ID:             m.ID,
		Name:           m.Name,
		Description:    m.Description,
		FunctionName:   m.FunctionName,
		ParameterNames: m.ParameterNames,
		BodySource:     m.BodySource,
		ArgumentsText:  m.ArgumentsText,
		Schedule:       m.Schedule,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
