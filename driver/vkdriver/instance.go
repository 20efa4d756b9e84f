package vkdriver

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/Neathan/vrend/driver"
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

const (
	validationLayer      = "VK_LAYER_KHRONOS_validation"
	debugReportExtension = "VK_EXT_debug_report"
	swapchainExtension   = "VK_KHR_swapchain"
)

// Init loads the Vulkan entry points through the given vkGetInstanceProcAddr,
// usually glfw.GetVulkanGetInstanceProcAddress().
func Init(getInstanceProcAddr unsafe.Pointer) error {
	vk.SetGetInstanceProcAddr(getInstanceProcAddr)
	return errors.Wrap(vk.Init(), "initialize vulkan")
}

// InitDefault loads the Vulkan entry points from the system loader. It is
// enough for enumerating devices without a window.
func InitDefault() error {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return errors.Wrap(err, "load vulkan loader")
	}
	return errors.Wrap(vk.Init(), "initialize vulkan")
}

// Version is used to specify versions of components.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) vk() uint32 {
	return vk.MakeVersion(v.Major, v.Minor, v.Patch)
}

// Options configure instance and device creation.
type Options struct {
	AppName    string
	AppVersion Version
	// Validation enables the Khronos validation layer and routes its reports
	// to Logger.
	Validation bool
	// Extensions are extra instance extensions, for example the ones the
	// windowing system requires.
	Extensions []string
	// SwapchainImages is the requested number of swapchain images, 0 asks for
	// one more than the surface minimum.
	SwapchainImages int
	Logger          *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// SupportedLayers lists the instance layers of the loader.
func SupportedLayers() ([]string, error) {
	var count uint32
	if err := driver.Check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.LayerProperties, count)
	if err := driver.Check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, props)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, p := range props {
		p.Deref()
		names = append(names, vk.ToString(p.LayerName[:]))
	}
	return names, nil
}

// SupportedExtensions lists the instance extensions of the loader.
func SupportedExtensions() ([]string, error) {
	var count uint32
	if err := driver.Check("vkEnumerateInstanceExtensionProperties", vk.EnumerateInstanceExtensionProperties("", &count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if err := driver.Check("vkEnumerateInstanceExtensionProperties", vk.EnumerateInstanceExtensionProperties("", &count, props)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, p := range props {
		p.Deref()
		names = append(names, vk.ToString(p.ExtensionName[:]))
	}
	return names, nil
}

// Instance is a Vulkan instance, optionally with a debug report callback.
type Instance struct {
	handle vk.Instance
	debug  vk.DebugReportCallback
	log    *slog.Logger
}

// CreateInstance creates the instance. When validation is requested but the
// layer is missing, a warning is logged and the instance is created without
// it.
func CreateInstance(opts Options) (*Instance, error) {
	log := opts.logger()
	extensions := append([]string(nil), opts.Extensions...)
	var layers []string

	if opts.Validation {
		supported, err := SupportedLayers()
		if err != nil {
			return nil, err
		}
		available, err := SupportedExtensions()
		if err != nil {
			return nil, err
		}
		switch {
		case !contains(supported, validationLayer):
			log.Warn("validation layer not available", slog.String("layer", validationLayer))
		case !contains(available, debugReportExtension):
			log.Warn("debug report extension not available", slog.String("extension", debugReportExtension))
			layers = append(layers, validationLayer)
		default:
			layers = append(layers, validationLayer)
			extensions = append(extensions, debugReportExtension)
		}
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         vk.MakeVersion(1, 0, 0),
		ApplicationVersion: opts.AppVersion.vk(),
		PApplicationName:   safeString(opts.AppName),
		PEngineName:        safeString("vrend"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}

	inst := &Instance{log: log}
	if err := driver.Check("vkCreateInstance", vk.CreateInstance(&createInfo, nil, &inst.handle)); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(inst.handle); err != nil {
		vk.DestroyInstance(inst.handle, nil)
		return nil, errors.Wrap(err, "load instance entry points")
	}
	log.Debug("instance created", slog.Any("layers", layers), slog.Any("extensions", extensions))

	if contains(extensions, debugReportExtension) {
		if err := inst.setDebugCallback(); err != nil {
			log.Warn("debug report callback unavailable", slog.Any("error", err))
		}
	}
	return inst, nil
}

func (i *Instance) setDebugCallback() error {
	return driver.Check("vkCreateDebugReportCallbackEXT", vk.CreateDebugReportCallback(i.handle, &vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
			vk.DebugReportPerformanceWarningBit),
		PfnCallback: i.report,
	}, nil, &i.debug))
}

// report forwards validation messages to the logger.
func (i *Instance) report(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	level := slog.LevelInfo
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		level = slog.LevelError
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		level = slog.LevelWarn
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		level = slog.LevelDebug
	}
	i.log.Log(context.Background(), level, pMessage,
		slog.String("layer", pLayerPrefix),
		slog.Int("code", int(messageCode)),
		slog.Uint64("object", object))
	return vk.False
}

// Handle returns the native instance, for creating window surfaces.
func (i *Instance) Handle() vk.Instance {
	return i.handle
}

// PhysicalDevices returns every physical device known to the instance.
func (i *Instance) PhysicalDevices() ([]*PhysicalDevice, error) {
	var count uint32
	if err := driver.Check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(i.handle, &count, nil)); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	handles := make([]vk.PhysicalDevice, count)
	if err := driver.Check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(i.handle, &count, handles)); err != nil {
		return nil, err
	}
	devices := make([]*PhysicalDevice, count)
	for n, h := range handles {
		devices[n] = newPhysicalDevice(h)
	}
	return devices, nil
}

func (i *Instance) Destroy() {
	if i.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.handle, i.debug, nil)
	}
	vk.DestroyInstance(i.handle, nil)
}
