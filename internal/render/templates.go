package render

import (
	"fmt"

	"github.com/pcileechlab/pcileechfwgen/internal/board"
)

// Template IDs. Hardware modules, build-tool scripts, and constraint files
// are rendered from the same context so their constants cannot diverge.
const (
	TplDeviceConfig = "hw/device_config"
	TplMsixCfg      = "hw/msix_cfg"
	TplMsixTable    = "hw/msix_table"
	TplTopWrapper   = "hw/top_wrapper"

	TplPowerMgmt     = "hw/advanced/power_mgmt"
	TplErrorHandling = "hw/advanced/error_handling"
	TplPerfCounters  = "hw/advanced/perf_counters"
	TplClockCrossing = "hw/advanced/clock_crossing"

	TplProjectSetup       = "tcl/project_setup"
	TplIPConfigPCIe7x     = "tcl/ip_config_pcie7x"
	TplIPConfigUltraScale = "tcl/ip_config_ultrascale"
	TplAddSources         = "tcl/add_sources"
	TplConstraints        = "tcl/constraints"
	TplSynthesis          = "tcl/synthesis"
	TplImplementation     = "tcl/implementation"
	TplBitstream          = "tcl/bitstream"
	TplMaster             = "tcl/master"

	TplPinoutFallback = "xdc/pinout_fallback"
	TplTiming         = "xdc/timing"
)

// baseTemplates holds the tree-independent template sources.
var baseTemplates = map[string]string{

	TplDeviceConfig: `//
// pcileech_device_config - donor identity and BAR layout constants
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_device_config(
    output wire [15:0]  cfg_vendor_id,
    output wire [15:0]  cfg_device_id,
    output wire [15:0]  cfg_subsys_vendor_id,
    output wire [15:0]  cfg_subsys_device_id,
    output wire [23:0]  cfg_class_code,
    output wire [7:0]   cfg_revision_id
);

    localparam [15:0] VENDOR_ID        = 16'h{{.device.vendor_id}};
    localparam [15:0] DEVICE_ID        = 16'h{{.device.device_id}};
    localparam [15:0] SUBSYS_VENDOR_ID = 16'h{{.device.subsys_vendor_id}};
    localparam [15:0] SUBSYS_DEVICE_ID = 16'h{{.device.subsys_device_id}};
    localparam [23:0] CLASS_CODE       = 24'h{{.device.class_code}};
    localparam [7:0]  REVISION_ID      = 8'h{{.device.revision_id}};

    // BAR window sizes in bytes; zero marks an absent window.
{{range .bars}}    localparam [63:0] BAR{{.index}}_SIZE = 64'd{{.size}};  // present={{if .present}}1{{else}}0{{end}}{{if .is_64bit}} 64-bit{{end}}{{if .is_prefetchable}} prefetchable{{end}}
{{end}}
    localparam        MSIX_ENABLED = {{if .msix.enabled}}1'b1{{else}}1'b0{{end}};
    localparam [10:0] MSIX_VECTORS = 11'd{{.msix.num_vectors}};

    assign cfg_vendor_id        = VENDOR_ID;
    assign cfg_device_id        = DEVICE_ID;
    assign cfg_subsys_vendor_id = SUBSYS_VENDOR_ID;
    assign cfg_subsys_device_id = SUBSYS_DEVICE_ID;
    assign cfg_class_code       = CLASS_CODE;
    assign cfg_revision_id      = REVISION_ID;

endmodule
`,

	TplMsixCfg: `//
// pcileech_msix_cfg - MSI-X capability register logic
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_msix_cfg(
    input  wire         clk,
    input  wire         rst,
    input  wire         cfg_wr_en,
    input  wire [15:0]  cfg_wr_data,
    output wire [15:0]  msix_message_control,
    output wire [31:0]  msix_table_location,
    output wire [31:0]  msix_pba_location
);

    // Message control: table size is encoded as N-1.
    localparam [10:0] MSIX_TABLE_SIZE_MINUS_ONE = 11'd{{.msix.table_size_minus_one}};

    localparam [2:0]  MSIX_TABLE_BIR    = 3'd{{.msix.table_bar}};
    localparam [31:0] MSIX_TABLE_OFFSET = 32'd{{.msix.table_offset}};
    localparam [2:0]  MSIX_PBA_BIR      = 3'd{{.msix.pba_bar}};
    localparam [31:0] MSIX_PBA_OFFSET   = 32'd{{.msix.pba_offset}};

    reg msix_enable;
    reg msix_function_mask;

    always @(posedge clk) begin
        if (rst) begin
            msix_enable        <= 1'b0;
            msix_function_mask <= 1'b0;
        end else if (cfg_wr_en) begin
            msix_enable        <= cfg_wr_data[15];
            msix_function_mask <= cfg_wr_data[14];
        end
    end

    assign msix_message_control = {msix_enable, msix_function_mask, 3'b000, MSIX_TABLE_SIZE_MINUS_ONE};
    assign msix_table_location  = MSIX_TABLE_OFFSET | {29'b0, MSIX_TABLE_BIR};
    assign msix_pba_location    = MSIX_PBA_OFFSET | {29'b0, MSIX_PBA_BIR};

endmodule
`,

	TplMsixTable: `//
// pcileech_msix_table - MSI-X vector table and pending-bit array storage
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_msix_table #(
    parameter NUM_MSIX   = {{.msix.num_vectors}},
    parameter ADDR_WIDTH = {{.msix.addr_width}}
) (
    input  wire                   clk,
    input  wire                   rst,
    input  wire                   wr_en,
    input  wire [ADDR_WIDTH-1:0]  wr_addr,
    input  wire [127:0]           wr_data,
    input  wire [ADDR_WIDTH-1:0]  rd_addr,
    output reg  [127:0]           rd_data,
    input  wire [NUM_MSIX-1:0]    irq_pending_set,
    output reg  [NUM_MSIX-1:0]    pba
);

    // One 128-bit entry per vector: address, upper address, data, control.
    reg [127:0] vector_table [0:NUM_MSIX-1];

    always @(posedge clk) begin
        if (wr_en)
            vector_table[wr_addr] <= wr_data;
        rd_data <= vector_table[rd_addr];
    end

    always @(posedge clk) begin
        if (rst)
            pba <= {NUM_MSIX{1'b0}};
        else
            pba <= pba | irq_pending_set;
    end

endmodule
`,

	TplTopWrapper: `//
// {{.board.top_module}} - top-level wrapper for the emulated endpoint
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module {{.board.top_module}}(
    input  wire        clk,
    input  wire        rst,
    output wire [31:0] debug_status
);

    // Upper half carries the vendor ID, lower half the device ID. Must stay
    // byte-identical with pcileech_device_config.
    localparam [31:0] DEBUG_STATUS = {16'h{{.device.vendor_id}}, 16'h{{.device.device_id}}};

    wire [15:0] cfg_vendor_id;
    wire [15:0] cfg_device_id;
    wire [15:0] cfg_subsys_vendor_id;
    wire [15:0] cfg_subsys_device_id;
    wire [23:0] cfg_class_code;
    wire [7:0]  cfg_revision_id;

    pcileech_device_config i_device_config(
        .cfg_vendor_id        ( cfg_vendor_id        ),
        .cfg_device_id        ( cfg_device_id        ),
        .cfg_subsys_vendor_id ( cfg_subsys_vendor_id ),
        .cfg_subsys_device_id ( cfg_subsys_device_id ),
        .cfg_class_code       ( cfg_class_code       ),
        .cfg_revision_id      ( cfg_revision_id      )
    );

    wire [{{.msix.num_vectors}}-1:0] msix_pba;
    wire [127:0] msix_rd_data;

    pcileech_msix_table #(
        .NUM_MSIX   ( {{.msix.num_vectors}} ),
        .ADDR_WIDTH ( {{.msix.addr_width}} )
    ) i_msix_table(
        .clk             ( clk ),
        .rst             ( rst ),
        .wr_en           ( 1'b0 ),
        .wr_addr         ( {{"{"}}{{.msix.addr_width}}{1'b0}} ),
        .wr_data         ( 128'b0 ),
        .rd_addr         ( {{"{"}}{{.msix.addr_width}}{1'b0}} ),
        .rd_data         ( msix_rd_data ),
        .irq_pending_set ( {{"{"}}{{.msix.num_vectors}}{1'b0}} ),
        .pba             ( msix_pba )
    );
{{if .features.power_mgmt}}
    wire [1:0] pm_state;
    pcileech_power_mgmt i_power_mgmt(
        .clk      ( clk ),
        .rst      ( rst ),
        .pm_wr_en ( 1'b0 ),
        .pm_wr    ( 2'b00 ),
        .pm_state ( pm_state )
    );
{{end}}{{if .features.perf_counters}}
    wire [{{.active_device_config.counter_width}}-1:0] perf_read_count;
    pcileech_perf_counters i_perf_counters(
        .clk        ( clk ),
        .rst        ( rst ),
        .read_strobe  ( 1'b0 ),
        .write_strobe ( 1'b0 ),
        .read_count ( perf_read_count )
    );
{{end}}{{if .features.variance}}
    // Timing variance: completion jitter seeded from the profiled read latency.
    reg [15:0] variance_lfsr = 16'd{{.active_device_config.variance_seed}};
    always @(posedge clk)
        variance_lfsr <= {variance_lfsr[14:0], variance_lfsr[15] ^ variance_lfsr[13]};
{{end}}
    assign debug_status = DEBUG_STATUS;

endmodule
`,

	TplProjectSetup: `#
# 01_project_setup.tcl - generated Vivado build script
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#

set project_name "{{.board.name}}"
set fpga_part    "{{.board.fpga_part}}"

create_project $project_name ./vivado_project -part $fpga_part -force

set obj [current_project]
set_property -name "default_lib" -value "xil_defaultlib" -objects $obj
set_property -name "simulator_language" -value "Mixed" -objects $obj
set_property -name "xpm_libraries" -value "XPM_CDC XPM_MEMORY" -objects $obj

puts "project created for {{.board.name}} ($fpga_part)"
`,

	TplIPConfigPCIe7x: `#
# 02_ip_config_pcie7x.tcl - generated Vivado build script
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#
# 7-series AXI PCIe endpoint configured with the donor identity.

create_ip -name pcie_7x -vendor xilinx.com -library ip -module_name pcie_7x_0

set_property -dict [list \
  CONFIG.Vendor_ID "{{.device.vendor_id}}" \
  CONFIG.Device_ID "{{.device.device_id}}" \
  CONFIG.Subsystem_Vendor_ID "{{.device.subsys_vendor_id}}" \
  CONFIG.Subsystem_ID "{{.device.subsys_device_id}}" \
  CONFIG.Class_Code_Base "{{.device.class_code}}" \
  CONFIG.Revision_ID "{{.device.revision_id}}" \
  CONFIG.MSIX_Enabled "{{if .msix.enabled}}true{{else}}false{{end}}" \
  CONFIG.MSIX_Table_Size "{{.msix.table_size_minus_one}}" \
  CONFIG.Bar0_Size "{{.board.default_bar0_kb}}" \
  CONFIG.Bar0_Scale "Kilobytes" \
  CONFIG.Maximum_Link_Width "X{{.pcie.link_width}}" \
  CONFIG.Link_Speed "{{.pcie.link_speed}}" \
  CONFIG.Max_Payload_Size "{{.pcie.max_payload}}" \
] [get_ips pcie_7x_0]

generate_target all [get_ips pcie_7x_0]
`,

	TplIPConfigUltraScale: `#
# 02_ip_config_ultrascale.tcl - generated Vivado build script
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#
# UltraScale+ PCIe block configured with the donor identity.

create_ip -name pcie4_uscale_plus -vendor xilinx.com -library ip -module_name pcie4_us_0

set_property -dict [list \
  CONFIG.Vendor_ID "{{.device.vendor_id}}" \
  CONFIG.Device_ID "{{.device.device_id}}" \
  CONFIG.Subsystem_Vendor_ID "{{.device.subsys_vendor_id}}" \
  CONFIG.Subsystem_ID "{{.device.subsys_device_id}}" \
  CONFIG.Class_Code_Base "{{.device.class_code}}" \
  CONFIG.Revision_ID "{{.device.revision_id}}" \
  CONFIG.MSIX_Enabled "{{if .msix.enabled}}true{{else}}false{{end}}" \
  CONFIG.MSIX_Table_Size "{{.msix.table_size_minus_one}}" \
  CONFIG.Bar0_Size "{{.board.default_bar0_kb}}" \
  CONFIG.Bar0_Scale "Kilobytes" \
  CONFIG.Maximum_Link_Width "X{{.pcie.link_width}}" \
  CONFIG.Link_Speed "{{.pcie.link_speed}}" \
  CONFIG.Max_Payload_Size "{{.pcie.max_payload}}" \
] [get_ips pcie4_us_0]

generate_target all [get_ips pcie4_us_0]
`,

	TplAddSources: `#
# 03_add_sources.tcl - generated Vivado build script
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#
# Every generated hardware module is listed exactly once.
{{range .build.file_list}}
add_files -norecurse "./generated/{{.}}"{{end}}

set_property top {{.board.top_module}} [current_fileset]
update_compile_order -fileset sources_1
`,

	TplConstraints: `#
# 04_constraints.tcl - generated Vivado build script
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#

read_xdc "./constraints/{{.board.name}}_pinout.xdc"
read_xdc "./constraints/{{.board.name}}_timing.xdc"
`,

	TplSynthesis: `#
# 05_synthesis.tcl - generated Vivado build script
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#

launch_runs synth_1 -jobs 4
wait_on_run synth_1

if {[get_property PROGRESS [get_runs synth_1]] != "100%"} {
    error "synthesis failed"
}
`,

	TplImplementation: `#
# 06_implementation.tcl - generated Vivado build script
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#

launch_runs impl_1 -jobs 4
wait_on_run impl_1

if {[get_property PROGRESS [get_runs impl_1]] != "100%"} {
    error "implementation failed"
}
`,

	TplBitstream: `#
# 07_bitstream.tcl - generated Vivado build script
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#

launch_runs impl_1 -to_step write_bitstream -jobs 4
wait_on_run impl_1

puts "bitstream written for {{.board.name}}"
`,

	TplMaster: `#
# build_all.tcl - generated Vivado build script
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#
# Master driver: runs the numbered stages in order.

source ./tcl/01_project_setup.tcl
source ./tcl/02_ip_config_{{.pcie.ip_family}}.tcl
source ./tcl/03_add_sources.tcl
source ./tcl/04_constraints.tcl
source ./tcl/05_synthesis.tcl
source ./tcl/06_implementation.tcl
source ./tcl/07_bitstream.tcl
`,

	TplPinoutFallback: `#
# {{.board.name}}_pinout.xdc - generated constraint file
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#
# WARNING: built-in fallback pinout. The upstream board constraints were
# not available from the repository cache; verify pin assignments against
# the board schematic before building.

set_property PACKAGE_PIN F6 [get_ports pcie_clk_p]
set_property PACKAGE_PIN E6 [get_ports pcie_clk_n]
set_property PACKAGE_PIN B6 [get_ports {pcie_rx_p[0]}]
set_property PACKAGE_PIN A6 [get_ports {pcie_rx_n[0]}]
set_property PACKAGE_PIN B2 [get_ports {pcie_tx_p[0]}]
set_property PACKAGE_PIN A2 [get_ports {pcie_tx_n[0]}]
set_property IOSTANDARD LVCMOS33 [get_ports pcie_perst_n]
`,

	TplTiming: `#
# {{.board.name}}_timing.xdc - generated constraint file
# generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
# board: {{.header.board_name}}  captured: {{.header.captured_at}}
#

create_clock -period 10.000 -name pcie_refclk [get_ports pcie_clk_p]
set_false_path -from [get_ports pcie_perst_n]
`,
}

// advancedTemplates carries the two near-duplicate advanced-feature trees
// shipped by the upstream project. Which tree is authoritative is selected
// by configuration (template_tree); the trees differ in register reset
// style and comment banners but implement the same behavior.
var advancedTemplates = map[board.TemplateTree]map[string]string{
	board.TreeTemplates: {
		TplPowerMgmt: `//
// pcileech_power_mgmt - power-state register emulation
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_power_mgmt(
    input  wire       clk,
    input  wire       rst,
    input  wire       pm_wr_en,
    input  wire [1:0] pm_wr,
    output reg  [1:0] pm_state
);

    // D0 = 2'b00, D3hot = 2'b11. Intermediate states are not advertised.
    always @(posedge clk) begin
        if (rst)
            pm_state <= 2'b00;
        else if (pm_wr_en)
            pm_state <= pm_wr;
    end

endmodule
`,
		TplErrorHandling: `//
// pcileech_error_handling - correctable/uncorrectable error latches
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_error_handling(
    input  wire        clk,
    input  wire        rst,
    input  wire        err_cor_set,
    input  wire        err_uncor_set,
    input  wire        err_clear,
    output reg  [31:0] err_status
);

    always @(posedge clk) begin
        if (rst || err_clear)
            err_status <= 32'b0;
        else begin
            if (err_cor_set)
                err_status[0] <= 1'b1;
            if (err_uncor_set)
                err_status[16] <= 1'b1;
        end
    end

endmodule
`,
		TplPerfCounters: `//
// pcileech_perf_counters - access counters for behavioral tuning
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_perf_counters #(
    parameter COUNTER_WIDTH = {{.active_device_config.counter_width}}
) (
    input  wire                     clk,
    input  wire                     rst,
    input  wire                     read_strobe,
    input  wire                     write_strobe,
    output reg [COUNTER_WIDTH-1:0]  read_count
);

    reg [COUNTER_WIDTH-1:0] write_count;

    always @(posedge clk) begin
        if (rst) begin
            read_count  <= {COUNTER_WIDTH{1'b0}};
            write_count <= {COUNTER_WIDTH{1'b0}};
        end else begin
            if (read_strobe)
                read_count <= read_count + 1'b1;
            if (write_strobe)
                write_count <= write_count + 1'b1;
        end
    end

endmodule
`,
		TplClockCrossing: `//
// pcileech_clock_crossing - dual-clock handshake for the PCIe core boundary
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_clock_crossing(
    input  wire        src_clk,
    input  wire        dst_clk,
    input  wire        rst,
    input  wire [31:0] src_data,
    input  wire        src_valid,
    output reg  [31:0] dst_data,
    output reg         dst_valid
);

    reg [31:0] sync_data;
    reg        sync_valid_0;
    reg        sync_valid_1;

    always @(posedge src_clk) begin
        if (src_valid)
            sync_data <= src_data;
    end

    always @(posedge dst_clk) begin
        if (rst) begin
            sync_valid_0 <= 1'b0;
            sync_valid_1 <= 1'b0;
            dst_valid    <= 1'b0;
        end else begin
            sync_valid_0 <= src_valid;
            sync_valid_1 <= sync_valid_0;
            dst_valid    <= sync_valid_1;
            if (sync_valid_1)
                dst_data <= sync_data;
        end
    end

endmodule
`,
	},

	board.TreeTemplating: {
		TplPowerMgmt: `//
// pcileech_power_mgmt - power-state register emulation (templating tree)
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_power_mgmt(
    input  wire       clk,
    input  wire       rst,
    input  wire       pm_wr_en,
    input  wire [1:0] pm_wr,
    output reg  [1:0] pm_state
);

    initial pm_state = 2'b00;

    always @(posedge clk) begin
        if (rst)
            pm_state <= 2'b00;
        else if (pm_wr_en)
            pm_state <= pm_wr;
    end

endmodule
`,
		TplErrorHandling: `//
// pcileech_error_handling - correctable/uncorrectable error latches (templating tree)
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_error_handling(
    input  wire        clk,
    input  wire        rst,
    input  wire        err_cor_set,
    input  wire        err_uncor_set,
    input  wire        err_clear,
    output reg  [31:0] err_status
);

    initial err_status = 32'b0;

    always @(posedge clk) begin
        if (rst || err_clear)
            err_status <= 32'b0;
        else
            err_status <= err_status | {15'b0, err_uncor_set, 15'b0, err_cor_set};
    end

endmodule
`,
		TplPerfCounters: `//
// pcileech_perf_counters - access counters for behavioral tuning (templating tree)
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_perf_counters #(
    parameter COUNTER_WIDTH = {{.active_device_config.counter_width}}
) (
    input  wire                     clk,
    input  wire                     rst,
    input  wire                     read_strobe,
    input  wire                     write_strobe,
    output reg [COUNTER_WIDTH-1:0]  read_count
);

    reg [COUNTER_WIDTH-1:0] write_count;

    initial begin
        read_count  = {COUNTER_WIDTH{1'b0}};
        write_count = {COUNTER_WIDTH{1'b0}};
    end

    always @(posedge clk) begin
        if (rst) begin
            read_count  <= {COUNTER_WIDTH{1'b0}};
            write_count <= {COUNTER_WIDTH{1'b0}};
        end else begin
            if (read_strobe)
                read_count <= read_count + 1'b1;
            if (write_strobe)
                write_count <= write_count + 1'b1;
        end
    end

endmodule
`,
		TplClockCrossing: `//
// pcileech_clock_crossing - dual-clock handshake for the PCIe core boundary (templating tree)
// generator: {{.header.generator_version}}  donor: {{.header.donor_hash}}
// board: {{.header.board_name}}  captured: {{.header.captured_at}}
//
` + "`timescale 1ns / 1ps" + `

module pcileech_clock_crossing(
    input  wire        src_clk,
    input  wire        dst_clk,
    input  wire        rst,
    input  wire [31:0] src_data,
    input  wire        src_valid,
    output reg  [31:0] dst_data,
    output reg         dst_valid
);

    (* ASYNC_REG = "TRUE" *) reg sync_valid_0;
    (* ASYNC_REG = "TRUE" *) reg sync_valid_1;
    reg [31:0] sync_data;

    always @(posedge src_clk) begin
        if (src_valid)
            sync_data <= src_data;
    end

    always @(posedge dst_clk) begin
        if (rst) begin
            sync_valid_0 <= 1'b0;
            sync_valid_1 <= 1'b0;
            dst_valid    <= 1'b0;
        end else begin
            sync_valid_0 <= src_valid;
            sync_valid_1 <= sync_valid_0;
            dst_valid    <= sync_valid_1;
            if (sync_valid_1)
                dst_data <= sync_data;
        end
    end

endmodule
`,
	},
}

// TemplateSource resolves a template ID against the base set and the
// selected advanced-feature tree.
func TemplateSource(id string, tree board.TemplateTree) (string, error) {
	if src, ok := baseTemplates[id]; ok {
		return src, nil
	}
	if tree == "" {
		tree = board.TreeTemplates
	}
	if variants, ok := advancedTemplates[tree]; ok {
		if src, ok := variants[id]; ok {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown template %q (tree %q)", id, tree)
}
