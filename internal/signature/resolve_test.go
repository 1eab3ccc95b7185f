package signature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raiseattention/raiseattention/internal/model"
)

func TestResolveLocalMatchesSameFileFunctionByShortName(t *testing.T) {
	fn := &model.FunctionInfo{QualifiedName: "helper", FilePath: testFile}
	registry := map[funcKey]*model.FunctionInfo{keyOf(fn): fn}

	e := New(nil, nil, Options{}, nil)
	got := e.resolveLocal(registry, &model.Module{ImportPath: "mod"}, fn, "", "helper")
	assert.Same(t, fn, got)
}

func TestResolveLocalIgnoresFunctionsInOtherFiles(t *testing.T) {
	fn := &model.FunctionInfo{QualifiedName: "helper", FilePath: "other.py"}
	caller := &model.FunctionInfo{QualifiedName: "caller", FilePath: testFile}
	registry := map[funcKey]*model.FunctionInfo{keyOf(fn): fn}

	e := New(nil, nil, Options{}, nil)
	got := e.resolveLocal(registry, &model.Module{ImportPath: "mod"}, caller, "", "helper")
	assert.Nil(t, got, "a same-named function declared in a different source file is not a local match")
}

func TestResolveLocalDottedNonReceiverCalleeIsNotLocal(t *testing.T) {
	e := New(nil, nil, Options{}, nil)
	caller := &model.FunctionInfo{QualifiedName: "caller", FilePath: testFile}
	got := e.resolveLocal(nil, &model.Module{ImportPath: "mod"}, caller, "", "os.path.join")
	assert.Nil(t, got)
}

func TestResolveLocalSelfReceiverMatchesMethodOnEnclosingClass(t *testing.T) {
	method := &model.FunctionInfo{QualifiedName: "Widget.render", FilePath: testFile, IsMethod: true}
	caller := &model.FunctionInfo{QualifiedName: "Widget.draw", FilePath: testFile, IsMethod: true}
	registry := map[funcKey]*model.FunctionInfo{keyOf(method): method}

	e := New(nil, nil, Options{}, nil)
	got := e.resolveLocal(registry, &model.Module{ImportPath: "mod"}, caller, "Widget", "self.render")
	assert.Same(t, method, got)
}

func TestResolveLocalClsReceiverMatchesClassmethod(t *testing.T) {
	method := &model.FunctionInfo{QualifiedName: "Widget.build", FilePath: testFile, IsMethod: true}
	caller := &model.FunctionInfo{QualifiedName: "Widget.make", FilePath: testFile, IsMethod: true}
	registry := map[funcKey]*model.FunctionInfo{keyOf(method): method}

	e := New(nil, nil, Options{}, nil)
	got := e.resolveLocal(registry, &model.Module{ImportPath: "mod"}, caller, "Widget", "cls.build")
	assert.Same(t, method, got)
}

func TestResolveLocalSuperReceiverMatchesOnSameClassName(t *testing.T) {
	method := &model.FunctionInfo{QualifiedName: "Widget.render", FilePath: testFile, IsMethod: true}
	caller := &model.FunctionInfo{QualifiedName: "Widget.draw", FilePath: testFile, IsMethod: true}
	registry := map[funcKey]*model.FunctionInfo{keyOf(method): method}

	e := New(nil, nil, Options{}, nil)
	got := e.resolveLocal(registry, &model.Module{ImportPath: "mod"}, caller, "Widget", "super().render")
	assert.Same(t, method, got)
}

func TestResolveOneCallLocalMatchTakesPrecedenceOverBuiltinFallback(t *testing.T) {
	helper := &model.FunctionInfo{QualifiedName: "helper", FilePath: testFile}
	caller := &model.FunctionInfo{QualifiedName: "caller", FilePath: testFile}
	registry := map[funcKey]*model.FunctionInfo{keyOf(helper): helper, keyOf(caller): caller}
	moduleOfFunc := map[funcKey]*model.Module{}

	e := New(nil, nil, Options{}, nil)
	call := model.CallInfo{Callee: "helper"}
	ref := e.resolveOneCall(context.Background(), &model.Module{ImportPath: "mod"}, registry, moduleOfFunc, caller, "", call)

	if assert.NotNil(t, ref.localKey) {
		assert.Equal(t, keyOf(helper), *ref.localKey)
	}
	assert.Nil(t, ref.stub)
	assert.False(t, ref.builtin)
}

func TestResolveOneCallLocalOnlySkipsUnresolvedDottedCallee(t *testing.T) {
	caller := &model.FunctionInfo{QualifiedName: "caller", FilePath: testFile}
	registry := map[funcKey]*model.FunctionInfo{keyOf(caller): caller}

	e := New(nil, nil, Options{LocalOnly: true, WarnNative: true}, nil)
	call := model.CallInfo{Callee: "os.path.join"}
	ref := e.resolveOneCall(context.Background(), &model.Module{ImportPath: "mod"}, registry, map[funcKey]*model.Module{}, caller, "", call)

	assert.Nil(t, ref.localKey)
	assert.Nil(t, ref.stub, "--local must skip external resolution (and therefore WarnNative) entirely")
}

func TestResolveOneCallWarnNativeFlagsUnresolvedDottedCallee(t *testing.T) {
	caller := &model.FunctionInfo{QualifiedName: "caller", FilePath: testFile}
	registry := map[funcKey]*model.FunctionInfo{keyOf(caller): caller}

	e := New(nil, nil, Options{WarnNative: true}, nil)
	call := model.CallInfo{Callee: "some_unknown_pkg.do_thing"}
	ref := e.resolveOneCall(context.Background(), &model.Module{ImportPath: "mod"}, registry, map[funcKey]*model.Module{}, caller, "", call)

	if assert.NotNil(t, ref.stub) {
		assert.Contains(t, *ref.stub, model.PossibleNativeException)
	}
}

func TestResolveOneCallOpaqueCalleeContributesNothingOnItsOwn(t *testing.T) {
	caller := &model.FunctionInfo{QualifiedName: "caller", FilePath: testFile}
	registry := map[funcKey]*model.FunctionInfo{keyOf(caller): caller}

	e := New(nil, nil, Options{WarnNative: true}, nil)
	call := model.CallInfo{Callee: ""}
	ref := e.resolveOneCall(context.Background(), &model.Module{ImportPath: "mod"}, registry, map[funcKey]*model.Module{}, caller, "", call)

	assert.Nil(t, ref.localKey)
	assert.Nil(t, ref.stub)
	assert.Empty(t, ref.hofRefs)
}
